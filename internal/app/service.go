package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/export"
	"inkwell/api/internal/feed"
	"inkwell/api/internal/richtext"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreatePromptInput struct {
	Title      string   `json:"title"`
	Prompt     *string  `json:"prompt"`
	Categories []string `json:"categories"`
}

type CreateResponseInput struct {
	Content  json.RawMessage `json:"content"`
	PromptID string          `json:"promptId"`
	Author   *string         `json:"author"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	InsertPrompt(ctx context.Context, p store.Prompt) (store.Prompt, error)
	ListPrompts(ctx context.Context, page, size int, categories []string) ([]store.Prompt, error)
	ListPromptsByCategories(ctx context.Context, categories []string) ([]store.Prompt, error)
	GetPrompt(ctx context.Context, promptID string) (store.Prompt, error)
	InsertResponse(ctx context.Context, r store.Response) (store.Response, error)
	GetResponse(ctx context.Context, responseID string) (store.Response, error)
	ListResponses(ctx context.Context, promptID string, page, size int) ([]store.Response, error)
}

// sessionStore is satisfied by both the Redis store and the Postgres store,
// so refresh tokens survive either backend choice.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type responseBroker interface {
	PublishResponse(ctx context.Context, ev feed.ChangeEvent) error
	SubscribeResponses(ctx context.Context) (<-chan feed.ChangeEvent, func(), error)
}

type promptSearcher interface {
	Search(q search.Query) search.Response
	IndexPrompt(p search.PromptRecord)
}

type responseExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type imageUploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	broker   responseBroker
	search   promptSearcher
	exporter responseExporter
	uploader imageUploader
	log      zerolog.Logger
}

// Options carries the optional collaborators. A nil field disables the
// corresponding endpoint rather than failing startup.
type Options struct {
	Broker   responseBroker
	Search   promptSearcher
	Exporter responseExporter
	Uploader imageUploader
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, accounts *authpw.Service, opts Options, log zerolog.Logger) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		accounts: accounts,
		broker:   opts.Broker,
		search:   opts.Search,
		exporter: opts.Exporter,
		uploader: opts.Uploader,
		log:      log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── auth ──

func (s *Service) SignUp(ctx context.Context, username, email, password string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, username, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "User is not authenticated")
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ── prompts ──

func (s *Service) CreatePrompt(ctx context.Context, session Session, input CreatePromptInput) (store.Prompt, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Prompt{}, domainError(http.StatusBadRequest, "Title is required")
	}

	prompt, err := s.store.InsertPrompt(ctx, store.Prompt{
		Title:      input.Title,
		Text:       input.Prompt,
		Author:     session.UserName,
		Categories: lowerCategories(input.Categories),
	})
	if err != nil {
		return store.Prompt{}, err
	}

	if s.search != nil {
		record := search.PromptRecord{
			ID:         prompt.ID,
			Title:      prompt.Title,
			Author:     prompt.Author,
			Categories: prompt.Categories,
		}
		if prompt.Text != nil {
			record.Prompt = *prompt.Text
		}
		s.search.IndexPrompt(record)
	}
	return prompt, nil
}

func (s *Service) GetPrompts(ctx context.Context, page, size int, categories []string) ([]store.Prompt, error) {
	return s.store.ListPrompts(ctx, page, size, lowerCategories(categories))
}

func (s *Service) GetPrompt(ctx context.Context, promptID string) (store.Prompt, error) {
	if strings.TrimSpace(promptID) == "" {
		return store.Prompt{}, domainError(http.StatusBadRequest, "Prompt ID is Required")
	}
	return s.store.GetPrompt(ctx, promptID)
}

func (s *Service) GetCategoricPrompts(ctx context.Context, categories []string) ([]store.Prompt, error) {
	if len(categories) == 0 {
		return nil, domainError(http.StatusBadRequest, "Prompt Category is Required for this API to run")
	}
	return s.store.ListPromptsByCategories(ctx, lowerCategories(categories))
}

func (s *Service) SearchPrompts(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "Search is not configured")
	}
	q.Categories = lowerCategories(q.Categories)
	return s.search.Search(q), nil
}

// ── responses ──

func (s *Service) CreateResponse(ctx context.Context, session Session, input CreateResponseInput) (store.Response, error) {
	if emptyJSON(input.Content) || strings.TrimSpace(input.PromptID) == "" {
		return store.Response{}, domainError(http.StatusBadRequest, "Rich Content and PromptID is required")
	}

	// Stored content must stay decodable by the viewer, so reject anything
	// that does not parse as a document before it reaches the database.
	doc, err := richtext.Unmarshal(input.Content)
	if err != nil {
		return store.Response{}, domainError(http.StatusBadRequest, "Rich Content is not a valid document")
	}
	// The composer blocks empty submits client-side; the API enforces the
	// same rule so blank responses never persist.
	if doc.IsEmpty() {
		return store.Response{}, domainError(http.StatusBadRequest, "Rich Content and PromptID is required")
	}

	author := session.UserName
	if input.Author != nil && strings.TrimSpace(*input.Author) != "" {
		author = *input.Author
	}

	resp, err := s.store.InsertResponse(ctx, store.Response{
		PromptID: input.PromptID,
		Author:   author,
		Content:  input.Content,
	})
	if err != nil {
		return store.Response{}, err
	}

	if s.broker != nil {
		ev := feed.ChangeEvent{
			Op: feed.OpInsert,
			Response: feed.Response{
				ID:        resp.ID,
				PromptID:  resp.PromptID,
				Author:    resp.Author,
				Content:   resp.Content,
				CreatedAt: resp.CreatedAt,
			},
		}
		if err := s.broker.PublishResponse(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("response_id", resp.ID).Msg("publish response change failed")
		}
	}
	return resp, nil
}

func (s *Service) GetResponses(ctx context.Context, promptID string, page, size int) ([]store.Response, error) {
	return s.store.ListResponses(ctx, promptID, page, size)
}

func (s *Service) SubscribeResponses(ctx context.Context) (<-chan feed.ChangeEvent, func(), error) {
	if s.broker == nil {
		return nil, nil, domainError(http.StatusServiceUnavailable, "Realtime is not configured")
	}
	return s.broker.SubscribeResponses(ctx)
}

// ── export / media ──

func (s *Service) ExportResponse(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "Export is not configured")
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) UploadImage(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if s.uploader == nil {
		return "", domainError(http.StatusServiceUnavailable, "Uploads are not configured")
	}
	return s.uploader.Upload(ctx, r, size, contentType)
}

// ── helpers ──

func lowerCategories(categories []string) []string {
	if categories == nil {
		return nil
	}
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func emptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
