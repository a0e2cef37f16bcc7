// Package store is the single owner of the tag registry and the
// article↔tag associations. Every mutation of the registry goes
// through ResolveOrCreate; article writes and their registry updates
// commit in one transaction so the popular-tags index can never lag a
// saved article.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/arawak/inkwell/internal/tags"
)

var ErrNotFound = errors.New("not found")

const defaultPageSize = 30

var allowedSort = map[string]string{
	"newest": "created_at DESC",
	"oldest": "created_at ASC",
}

type Store struct {
	db      *sqlx.DB
	tagOpts tags.Options
}

func New(db *sqlx.DB, tagOpts tags.Options) *Store {
	return &Store{db: db, tagOpts: tagOpts}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateArticle persists the article and its resolved tag set in one
// transaction. Tag rows created here commit together with the article
// or not at all.
func (s *Store) CreateArticle(ctx context.Context, in ArticleCreate) (*Article, error) {
	normalized := tags.Normalize(tags.List(in.Tags), s.tagOpts)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO article (title, description, body) VALUES (?, ?, ?)",
		in.Title, in.Description, in.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := s.replaceTagRefsTx(ctx, tx, id, normalized); err != nil {
		return nil, err
	}

	article, err := s.getArticleByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return article, nil
}

func (s *Store) getArticleByID(ctx context.Context, tx *sqlx.Tx, id int64) (*Article, error) {
	return s.fetchArticle(ctx, tx, "id = ?", id)
}

func (s *Store) fetchArticle(ctx context.Context, tx *sqlx.Tx, where string, arg any) (*Article, error) {
	query := "SELECT id, title, description, body, created_at, updated_at, deleted_at FROM article WHERE " + where
	var a Article
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &a, query, arg)
	} else {
		err = s.db.GetContext(ctx, &a, query, arg)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, tx, []*Article{&a}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetArticle(ctx context.Context, id int64, includeDeleted bool) (*Article, error) {
	where := "id = ?"
	if !includeDeleted {
		where += " AND deleted_at IS NULL"
	}
	return s.fetchArticle(ctx, nil, where, id)
}

// UpdateArticle applies a partial update. A non-nil Tags field replaces
// the article's tag set wholesale, resolving every name against the
// registry inside the same transaction as the article row update.
func (s *Store) UpdateArticle(ctx context.Context, id int64, upd ArticleUpdate) (*Article, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock the row for the duration of the update so two concurrent
	// edits cannot interleave their tag replacements.
	var existing int64
	err = tx.GetContext(ctx, &existing, "SELECT id FROM article WHERE id = ? AND deleted_at IS NULL FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	setParts := []string{}
	args := []any{}
	if upd.Title != nil {
		setParts = append(setParts, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		setParts = append(setParts, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Body != nil {
		setParts = append(setParts, "body = ?")
		args = append(args, *upd.Body)
	}

	if len(setParts) > 0 || upd.Tags != nil {
		setParts = append(setParts, "updated_at = NOW()")
		query := "UPDATE article SET " + strings.Join(setParts, ", ") + " WHERE id = ?"
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, err
		}
	}

	if upd.Tags != nil {
		normalized := tags.Normalize(tags.List(*upd.Tags), s.tagOpts)
		if err := s.replaceTagRefsTx(ctx, tx, id, normalized); err != nil {
			return nil, err
		}
	}

	article, err := s.getArticleByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return article, nil
}

func (s *Store) DeleteArticle(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE article SET deleted_at = NOW(), updated_at = NOW() WHERE id = ? AND deleted_at IS NULL", id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// replaceTagRefsTx swaps the article's association rows for the given
// canonical names. Each name is resolved against the registry first,
// so a registered tag always exists before an association points at
// it. Position keeps the author's ordering.
func (s *Store) replaceTagRefsTx(ctx context.Context, tx *sqlx.Tx, articleID int64, names tags.List) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM article_tag WHERE article_id = ?", articleID); err != nil {
		return err
	}

	for i, name := range names {
		tagID, err := resolveOrCreateTx(ctx, tx, name)
		if err != nil {
			return fmt.Errorf("resolve tag %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO article_tag (article_id, tag_id, position) VALUES (?, ?, ?)", articleID, tagID, i); err != nil {
			return fmt.Errorf("link tag %q: %w", name, err)
		}
	}
	return nil
}

func (s *Store) ListArticles(ctx context.Context, params ListParams) ([]Article, int, error) {
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	offset := (page - 1) * pageSize

	where := []string{"1=1"}
	args := []any{}
	if !params.IncludeDeleted {
		where = append(where, "a.deleted_at IS NULL")
	}

	join := ""
	having := ""
	if len(params.Tags) > 0 {
		filter := tags.Normalize(tags.List(params.Tags), s.tagOpts)
		if len(filter) > 0 {
			placeholders := strings.Repeat("?,", len(filter))
			placeholders = strings.TrimSuffix(placeholders, ",")
			join = "JOIN article_tag at ON at.article_id = a.id JOIN tag t ON t.id = at.tag_id"
			where = append(where, "t.name IN ("+placeholders+")")
			for _, t := range filter {
				args = append(args, t)
			}
			having = "HAVING COUNT(DISTINCT t.name) = ?"
			args = append(args, len(filter))
		}
	}

	orderClause := allowedSort[params.Sort]
	if orderClause == "" {
		orderClause = allowedSort["newest"]
	}

	whereSQL := strings.Join(where, " AND ")
	base := "FROM article a " + join + " WHERE " + whereSQL

	var total int
	if having != "" {
		countQuery := "SELECT COUNT(*) FROM (SELECT a.id " + base + " GROUP BY a.id " + having + ") sub"
		if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
			return nil, 0, err
		}
	} else {
		countQuery := "SELECT COUNT(DISTINCT a.id) " + base
		if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
			return nil, 0, err
		}
	}

	selectQuery := "SELECT a.id, a.title, a.description, a.body, a.created_at, a.updated_at, a.deleted_at " + base + " GROUP BY a.id " + having + " ORDER BY " + orderClause + " LIMIT ? OFFSET ?"
	listArgs := append(append([]any{}, args...), pageSize, offset)

	var rows []Article
	if err := s.db.SelectContext(ctx, &rows, selectQuery, listArgs...); err != nil {
		return nil, 0, err
	}

	articles := make([]*Article, len(rows))
	for i := range rows {
		articles[i] = &rows[i]
	}
	if err := s.attachTags(ctx, nil, articles); err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}

func (s *Store) attachTags(ctx context.Context, tx *sqlx.Tx, articles []*Article) error {
	if len(articles) == 0 {
		return nil
	}
	ids := make([]int64, len(articles))
	index := make(map[int64]*Article)
	for i, a := range articles {
		ids[i] = a.ID
		index[a.ID] = a
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = strings.TrimSuffix(placeholders, ",")
	query := "SELECT at.article_id, t.name FROM article_tag at JOIN tag t ON t.id = at.tag_id WHERE at.article_id IN (" + placeholders + ") ORDER BY at.article_id, at.position"
	rows, err := (func() (*sqlx.Rows, error) {
		if tx != nil {
			return tx.QueryxContext(ctx, query, toAny(ids)...)
		}
		return s.db.QueryxContext(ctx, query, toAny(ids)...)
	})()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var articleID int64
		var name string
		if err := rows.Scan(&articleID, &name); err != nil {
			return err
		}
		index[articleID].Tags = append(index[articleID].Tags, name)
	}
	return rows.Err()
}

func toAny[T comparable](vals []T) []any {
	res := make([]any, len(vals))
	for i, v := range vals {
		res[i] = v
	}
	return res
}

// isRetryable reports lock contention the caller may simply try again:
// MySQL deadlock (1213) and lock wait timeout (1205).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "lock wait timeout")
}
