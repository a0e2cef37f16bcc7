package store

import "time"

type Tag struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// TagCount is one row of the popularity index: a tag and the number of
// distinct live articles referencing it.
type TagCount struct {
	Name  string `db:"name"`
	Count int    `db:"cnt"`
}

type Article struct {
	ID          int64      `db:"id"`
	Title       string     `db:"title"`
	Description string     `db:"description"`
	Body        string     `db:"body"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
	Tags        []string   `db:"-"`
}

type ArticleCreate struct {
	Title       string
	Description string
	Body        string
	Tags        []string
}

type ArticleUpdate struct {
	Title       *string
	Description *string
	Body        *string
	Tags        *[]string
}

type ListParams struct {
	Tags           []string
	Page           int
	PageSize       int
	Sort           string
	IncludeDeleted bool
}
