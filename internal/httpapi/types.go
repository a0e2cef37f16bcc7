package httpapi

import "time"

type Health struct {
	Status string `json:"status"`
}

type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Article struct {
	Id          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Body        string     `json:"body"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// ArticleCreateRequest carries tags as a JSON array of strings. TagList
// is a convenience for form-style clients: a single comma or newline
// delimited field, split server-side before it reaches the normalizer.
// A present tags array wins over tagList, including an explicitly
// empty one.
type ArticleCreateRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Body        string    `json:"body"`
	Tags        *[]string `json:"tags"`
	TagList     string    `json:"tagList,omitempty"`
}

type ArticleUpdateRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Body        *string   `json:"body"`
	Tags        *[]string `json:"tags"`
	TagList     *string   `json:"tagList"`
}

type ArticleListResponse struct {
	Items    []Article `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
}

type Tag struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

type TagListResponse struct {
	Items    []Tag `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int   `json:"total"`
}

type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type PopularTagsResponse struct {
	Items []TagCount `json:"items"`
}

type SweepResponse struct {
	Deleted int64 `json:"deleted"`
}
