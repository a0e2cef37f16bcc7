package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arawak/inkwell/internal/tags"
)

// maxResolveRetries bounds the retry loop around transient lock errors
// when two requests race to create the same tag.
const maxResolveRetries = 3

var ErrEmptyTag = errors.New("empty tag name")

// ResolveOrCreate returns the Tag registered under the canonical form
// of name, creating it first if it does not exist. The UNIQUE index on
// tag.name plus the upsert make this first-writer-wins: concurrent
// calls for the same new name all end up with the single winning row.
func (s *Store) ResolveOrCreate(ctx context.Context, name string) (*Tag, error) {
	canonical := tags.Canonical(name)
	if canonical == "" {
		return nil, ErrEmptyTag
	}

	var lastErr error
	for attempt := 0; attempt < maxResolveRetries; attempt++ {
		id, err := resolveOrCreateTx(ctx, s.db, canonical)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("resolve tag %q: %w", canonical, err)
		}
		var t Tag
		if err := s.db.GetContext(ctx, &t, "SELECT id, name, created_at FROM tag WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("reread tag %q: %w", canonical, err)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("resolve tag %q: %w", canonical, lastErr)
}

// execer covers both *sqlx.DB and *sqlx.Tx so tag resolution can run
// standalone or inside an article transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func resolveOrCreateTx(ctx context.Context, e execer, canonical string) (int64, error) {
	res, err := e.ExecContext(ctx, "INSERT INTO tag (name) VALUES (?) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)", canonical)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AllTags returns every registered tag, straight from the table. The
// popularity surface reads through this with no cache in between, so a
// committed ResolveOrCreate is visible here immediately.
func (s *Store) AllTags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := s.db.SelectContext(ctx, &out, "SELECT id, name, created_at FROM tag ORDER BY name"); err != nil {
		return nil, err
	}
	return out, nil
}

// PopularTags counts, per tag, the distinct articles referencing it,
// soft-deleted articles excluded. Order is count descending, name
// ascending among ties. Unreferenced tags rank last with count 0.
func (s *Store) PopularTags(ctx context.Context, limit int) ([]TagCount, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := `SELECT t.name, COUNT(DISTINCT a.id) AS cnt
	FROM tag t
	LEFT JOIN article_tag at ON at.tag_id = t.id
	LEFT JOIN article a ON a.id = at.article_id AND a.deleted_at IS NULL
	GROUP BY t.id, t.name
	ORDER BY cnt DESC, t.name ASC
	LIMIT ?`
	var out []TagCount
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTags(ctx context.Context, prefix string, page, pageSize int) ([]Tag, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	where := ""
	args := []any{}
	if prefix != "" {
		where = "WHERE name LIKE ?"
		args = append(args, prefix+"%")
	}

	countQuery := "SELECT COUNT(*) FROM tag " + where
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, name, created_at FROM tag " + where + " ORDER BY name LIMIT ? OFFSET ?"
	argsWithPaging := append(append([]any{}, args...), pageSize, offset)
	var out []Tag
	if err := s.db.SelectContext(ctx, &out, query, argsWithPaging...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// DeleteUnreferencedTags removes tags no article references anymore.
// Maintenance sweep only; authoring never deletes tags.
func (s *Store) DeleteUnreferencedTags(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE t FROM tag t LEFT JOIN article_tag at ON at.tag_id = t.id WHERE at.tag_id IS NULL")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
