package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/store"
)

const helloDocument = `{"root":{"type":"root","version":1,"children":[{"type":"paragraph","version":1,"children":[{"type":"text","version":1,"text":"Hello","format":0}]}]}}`

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	prompts   []store.Prompt
	responses []store.Response
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]store.User{}}
}

func (f *fakeStore) nextID(kind string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", kind, f.seq)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, username, email, passwordHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{
		ID:           f.nextID("user"),
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) InsertPrompt(_ context.Context, p store.Prompt) (store.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID("prompt")
	p.CreatedAt = time.Now()
	f.prompts = append(f.prompts, p)
	return p, nil
}

func hasAllCategories(have, want []string) bool {
	set := map[string]bool{}
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

func (f *fakeStore) ListPrompts(_ context.Context, page, size int, categories []string) ([]store.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]store.Prompt, 0, len(f.prompts))
	for _, p := range f.prompts {
		if len(categories) > 0 && !hasAllCategories(p.Categories, categories) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start := page * size
	if start >= len(matched) {
		return nil, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (f *fakeStore) ListPromptsByCategories(ctx context.Context, categories []string) ([]store.Prompt, error) {
	return f.ListPrompts(ctx, 0, len(f.prompts)+1, categories)
}

func (f *fakeStore) GetPrompt(_ context.Context, promptID string) (store.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prompts {
		if p.ID == promptID {
			return p, nil
		}
	}
	return store.Prompt{}, sql.ErrNoRows
}

func (f *fakeStore) InsertResponse(_ context.Context, r store.Response) (store.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.nextID("response")
	r.CreatedAt = time.Now()
	f.responses = append(f.responses, r)
	return r, nil
}

func (f *fakeStore) GetResponse(_ context.Context, responseID string) (store.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.responses {
		if r.ID == responseID {
			return r, nil
		}
	}
	return store.Response{}, sql.ErrNoRows
}

func (f *fakeStore) ListResponses(_ context.Context, promptID string, page, size int) ([]store.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]store.Response, 0, len(f.responses))
	for _, r := range f.responses {
		if r.PromptID == promptID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start := page * size
	if start >= len(matched) {
		return nil, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.tokens[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeStore) {
	t.Helper()
	fake := newFakeStore()
	service := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fake,
		sessions: newFakeSessions(),
		accounts: authpw.NewService(fake),
		log:      zerolog.Nop(),
	}
	return NewHTTPServer(service, "*", zerolog.Nop()), fake
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func signUp(t *testing.T, server *HTTPServer, username string) (token, refresh string) {
	t.Helper()
	rec, body := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["accessToken"].(string), body["refreshToken"].(string)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
}

func TestCreatePromptRequiresAuth(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodPost, "/api/createPrompt", "", map[string]any{"title": "T"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "User is not authenticated", body["error"])
}

func TestCreatePromptMissingTitle(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")
	rec, body := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, map[string]any{"prompt": "P"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Title is required", body["error"])
}

func TestCreatePromptAuthorAndNullCategories(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/createPrompt", token,
		`{"title":"T","prompt":"P","categories":null}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	require.Equal(t, "alice", data["author"])
	require.Equal(t, "T", data["title"])
	require.Equal(t, "P", data["prompt"])
	require.Contains(t, data, "categories")
	require.Nil(t, data["categories"])
}

func TestCreatePromptLowercasesCategories(t *testing.T) {
	server, fake := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, map[string]any{
		"title":      "T",
		"categories": []string{"Fiction", " MYSTERY "},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := body["data"].(map[string]any)
	require.Equal(t, []any{"fiction", "mystery"}, data["categories"])
	require.Equal(t, []string{"fiction", "mystery"}, fake.prompts[0].Categories)
}

func TestMalformedBodyFailsClosed(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, `{"title":`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Failed to process request", body["error"])
}

func TestGetPromptsRequiresPageParams(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")
	rec, body := doJSON(t, server, http.MethodPost, "/api/getPrompts", token, map[string]any{"page": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Page and Page Size is required", body["error"])
}

func TestGetPromptsRequiresAuth(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodPost, "/api/getPrompts", "", map[string]any{"page": 0, "page_size": 10})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "User is not authenticated", body["error"])
}

func TestGetPromptsCategoryFilter(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	for _, p := range []map[string]any{
		{"title": "Fiction prompt", "categories": []string{"fiction"}},
		{"title": "Mystery prompt", "categories": []string{"mystery"}},
		{"title": "Both prompt", "categories": []string{"fiction", "mystery"}},
	} {
		rec, _ := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, p)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, body := doJSON(t, server, http.MethodPost, "/api/getPrompts", token, map[string]any{
		"page": 0, "page_size": 10, "categories": []string{"fiction"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	prompts := body["prompts"].([]any)
	require.Len(t, prompts, 2)
	for _, raw := range prompts {
		title := raw.(map[string]any)["title"].(string)
		require.NotEqual(t, "Mystery prompt", title)
	}
}

func TestGetPromptsPaginates(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	for i := 0; i < 5; i++ {
		rec, _ := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, map[string]any{
			"title": fmt.Sprintf("Prompt %d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, body := doJSON(t, server, http.MethodPost, "/api/getPrompts", token, map[string]any{"page": 1, "page_size": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, body["prompts"].([]any), 2)

	rec, body = doJSON(t, server, http.MethodPost, "/api/getPrompts", token, map[string]any{"page": 2, "page_size": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, body["prompts"].([]any), 1)
}

func TestGetSpecificPrompt(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, created := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, map[string]any{"title": "T"})
	require.Equal(t, http.StatusCreated, rec.Code)
	promptID := created["data"].(map[string]any)["id"].(string)

	rec, body := doJSON(t, server, http.MethodPost, "/api/getSpecificPrompt", "", map[string]any{"id": promptID})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "T", body["promptData"].(map[string]any)["title"])

	rec, body = doJSON(t, server, http.MethodPost, "/api/getSpecificPrompt", "", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Prompt ID is Required", body["error"])

	rec, _ = doJSON(t, server, http.MethodPost, "/api/getSpecificPrompt", "", map[string]any{"id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCategoricPrompts(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, _ := doJSON(t, server, http.MethodPost, "/api/createPrompt", token, map[string]any{
		"title": "Fiction prompt", "categories": []string{"fiction"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := doJSON(t, server, http.MethodPost, "/api/getCategoricPrompts", token, map[string]any{
		"categories": []string{"Fiction"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["prompts"].([]any), 1)

	rec, body = doJSON(t, server, http.MethodPost, "/api/getCategoricPrompts", token, map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Prompt Category is Required for this API to run", body["error"])

	rec, _ = doJSON(t, server, http.MethodPost, "/api/getCategoricPrompts", "", map[string]any{
		"categories": []string{"fiction"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateResponseThenGetResponsesOnce(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/createResponse", token,
		`{"content":`+helloDocument+`,"promptId":"p1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	require.Equal(t, "p1", data["prompt_id"])
	require.Equal(t, "alice", data["author"])
	responseID := data["id"].(string)

	rec, body = doJSON(t, server, http.MethodPost, "/api/getResponses", "",
		map[string]any{"promptId": "p1", "page": 0, "page_size": 10})
	require.Equal(t, http.StatusOK, rec.Code)

	responses := body["responses"].([]any)
	seen := 0
	for _, raw := range responses {
		if raw.(map[string]any)["id"] == responseID {
			seen++
		}
	}
	require.Equal(t, 1, seen)
}

func TestCreateResponseMissingFields(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	for _, payload := range []string{
		`{"promptId":"p1"}`,
		`{"content":` + helloDocument + `}`,
		`{"content":null,"promptId":"p1"}`,
	} {
		rec, body := doJSON(t, server, http.MethodPost, "/api/createResponse", token, payload)
		require.Equal(t, http.StatusBadRequest, rec.Code, payload)
		require.Equal(t, "Rich Content and PromptID is required", body["error"])
	}
}

func TestCreateResponseRejectsUndecodableContent(t *testing.T) {
	server, fake := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/createResponse", token,
		`{"content":{"root":{"type":"hologram","version":1}},"promptId":"p1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Rich Content is not a valid document", body["error"])
	require.Empty(t, fake.responses)
}

func TestCreateResponseRejectsEmptyDocument(t *testing.T) {
	server, fake := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	emptyDoc := `{"root":{"type":"root","version":1,"children":[{"type":"paragraph","version":1,"children":[]}]}}`
	rec, body := doJSON(t, server, http.MethodPost, "/api/createResponse", token,
		`{"content":`+emptyDoc+`,"promptId":"p1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Rich Content and PromptID is required", body["error"])
	require.Empty(t, fake.responses)
}

func TestGetResponsesRequiresParams(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodPost, "/api/getResponses", "", map[string]any{"promptId": "p1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Prompt ID, Page and Page Size are required", body["error"])
}

func TestSignInWrongPassword(t *testing.T) {
	server, _ := newTestServer(t)
	signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "alice@example.com", "password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Invalid email or password", body["error"])
}

func TestRefreshRotatesToken(t *testing.T) {
	server, _ := newTestServer(t)
	_, refresh := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, refresh, body["refreshToken"])

	// The old token is single use.
	rec, _ = doJSON(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	server, _ := newTestServer(t)
	token, refresh := signUp(t, server, "alice")

	rec, _ := doJSON(t, server, http.MethodPost, "/api/auth/logout", token, map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	token, _ := signUp(t, server, "alice")

	rec, body := doJSON(t, server, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["authenticated"])
	require.Equal(t, "alice", body["userName"])

	rec, body = doJSON(t, server, http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["authenticated"])
}

func TestSearchUnconfigured(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodGet, "/api/search?q=rain", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "Search is not configured", body["error"])
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t)
	rec, body := doJSON(t, server, http.MethodPost, "/api/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not found", body["error"])
}
