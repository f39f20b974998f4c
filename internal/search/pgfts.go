package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries prompts using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := "p.fts @@ " + tsQuery
	if len(q.Categories) > 0 {
		cats, err := json.Marshal(q.Categories)
		if err != nil {
			return nil, 0, fmt.Errorf("encode categories: %w", err)
		}
		where += fmt.Sprintf(" AND p.categories @> $%d::jsonb", len(args)+1)
		args = append(args, cats)
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.title,
			ts_headline('english', coalesce(p.prompt, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			p.author, p.categories,
			count(*) OVER () AS total
		FROM prompts p
		WHERE %s
		ORDER BY ts_rank(p.fts, %s) DESC, p.created_at DESC
		LIMIT $%d OFFSET $%d`,
		tsQuery, where, tsQuery, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var (
			r       Result
			catsRaw []byte
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Author, &catsRaw, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if len(catsRaw) > 0 {
			_ = json.Unmarshal(catsRaw, &r.Categories)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every prompt for bulk reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PromptRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(prompt, ''), author, categories
		FROM prompts
	`)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	defer rows.Close()

	var out []PromptRecord
	for rows.Next() {
		var (
			rec     PromptRecord
			catsRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Prompt, &rec.Author, &catsRaw); err != nil {
			return nil, fmt.Errorf("scan prompt record: %w", err)
		}
		if len(catsRaw) > 0 {
			_ = json.Unmarshal(catsRaw, &rec.Categories)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
