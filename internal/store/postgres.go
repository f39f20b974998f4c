package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── users ──

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	const insert = `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, LOWER($2), $3)
		RETURNING id, username, email, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, insert, username, email, passwordHash).
		Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE email = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT id, username, email, created_at FROM users WHERE id = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ── refresh sessions ──
//
// Postgres backs refresh sessions when Redis is not configured.

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ── prompts ──

func (s *PostgresStore) InsertPrompt(ctx context.Context, p Prompt) (Prompt, error) {
	cats, err := encodeCategories(p.Categories)
	if err != nil {
		return Prompt{}, err
	}
	const insert = `
		INSERT INTO prompts (title, prompt, author, categories)
		VALUES ($1, NULLIF($2, ''), $3, $4::jsonb)
		RETURNING id, created_at
	`
	text := ""
	if p.Text != nil {
		text = *p.Text
	}
	if err := s.db.QueryRowContext(ctx, insert, p.Title, text, p.Author, cats).Scan(&p.ID, &p.CreatedAt); err != nil {
		return Prompt{}, fmt.Errorf("insert prompt: %w", err)
	}
	return p, nil
}

// ListPrompts returns one page of prompts, newest first. A non-empty
// categories filter keeps only prompts tagged with every given category.
func (s *PostgresStore) ListPrompts(ctx context.Context, page, size int, categories []string) ([]Prompt, error) {
	query := `
		SELECT id, title, prompt, author, categories, created_at
		FROM prompts
	`
	args := []any{}
	if len(categories) > 0 {
		cats, err := encodeCategories(categories)
		if err != nil {
			return nil, err
		}
		query += ` WHERE categories @> $1::jsonb`
		args = append(args, cats)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, size, page*size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	return scanPrompts(rows)
}

func (s *PostgresStore) GetPrompt(ctx context.Context, promptID string) (Prompt, error) {
	const query = `
		SELECT id, title, prompt, author, categories, created_at
		FROM prompts WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, promptID)
	var (
		p       Prompt
		catsRaw []byte
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Text, &p.Author, &catsRaw, &p.CreatedAt); err != nil {
		return Prompt{}, err
	}
	if err := decodeCategories(catsRaw, &p.Categories); err != nil {
		return Prompt{}, err
	}
	return p, nil
}

// ListPromptsByCategories returns every prompt tagged with all of the given
// categories, without pagination.
func (s *PostgresStore) ListPromptsByCategories(ctx context.Context, categories []string) ([]Prompt, error) {
	cats, err := encodeCategories(categories)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT id, title, prompt, author, categories, created_at
		FROM prompts WHERE categories @> $1::jsonb
	`
	rows, err := s.db.QueryContext(ctx, query, cats)
	if err != nil {
		return nil, fmt.Errorf("list prompts by categories: %w", err)
	}
	defer rows.Close()

	return scanPrompts(rows)
}

// ── responses ──

func (s *PostgresStore) InsertResponse(ctx context.Context, r Response) (Response, error) {
	const insert = `
		INSERT INTO responses (prompt_id, author, content)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, created_at
	`
	if err := s.db.QueryRowContext(ctx, insert, r.PromptID, r.Author, []byte(r.Content)).Scan(&r.ID, &r.CreatedAt); err != nil {
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, responseID string) (Response, error) {
	const query = `
		SELECT id, prompt_id, author, content, created_at
		FROM responses WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, responseID)
	var (
		r       Response
		content []byte
	)
	if err := row.Scan(&r.ID, &r.PromptID, &r.Author, &content, &r.CreatedAt); err != nil {
		return Response{}, err
	}
	r.Content = json.RawMessage(content)
	return r, nil
}

// ListResponses returns one page of a prompt's responses, newest first.
func (s *PostgresStore) ListResponses(ctx context.Context, promptID string, page, size int) ([]Response, error) {
	const query = `
		SELECT id, prompt_id, author, content, created_at
		FROM responses
		WHERE prompt_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, promptID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var r Response
		var content []byte
		if err := rows.Scan(&r.ID, &r.PromptID, &r.Author, &content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.Content = json.RawMessage(content)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── helpers ──

func scanPrompts(rows *sql.Rows) ([]Prompt, error) {
	var out []Prompt
	for rows.Next() {
		var (
			p       Prompt
			catsRaw []byte
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &p.Author, &catsRaw, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		if err := decodeCategories(catsRaw, &p.Categories); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// encodeCategories maps a nil slice to SQL NULL so the distinction between
// "no categories supplied" and "empty list" survives a round trip.
func encodeCategories(categories []string) ([]byte, error) {
	if categories == nil {
		return nil, nil
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	return data, nil
}

func decodeCategories(raw []byte, into *[]string) error {
	if len(raw) == 0 {
		*into = nil
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode categories: %w", err)
	}
	return nil
}
