package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/export"
	"inkwell/api/internal/media"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup":
		s.handleSignUp(w, r)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin":
		s.handleSignIn(w, r)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh":
		s.handleRefresh(w, r)
		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout":
		s.handleLogout(w, r)
		return
	case r.Method == http.MethodGet && r.URL.Path == "/api/session":
		s.handleSession(w, r)
		return
	}

	// Prompt and response routes follow the original RPC-over-POST shape:
	// one path per operation, parameters in the JSON body.
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/createPrompt":
		s.handleCreatePrompt(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/createResponse":
		s.handleCreateResponse(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/getPrompts":
		s.handleGetPrompts(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/getSpecificPrompt":
		s.handleGetSpecificPrompt(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/getResponses":
		s.handleGetResponses(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/getCategoricPrompts":
		s.handleGetCategoricPrompts(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		s.handleSearch(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/uploadImage":
		s.handleUploadImage(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/exportResponse":
		s.handleExportResponse(w, r)
	case r.URL.Path == "/api/responses/stream":
		s.handleResponseStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]any{"database": "ok"}
	if err := s.service.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = err.Error()
	}
	writeJSON(w, status, map[string]any{"success": status == http.StatusOK, "checks": checks})
}

// ── auth handlers ──

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		var domainErr *DomainError
		switch {
		case errors.As(err, &domainErr):
			writeError(w, domainErr.Status, domainErr.Message)
		case errors.Is(err, authpw.ErrEmailTaken):
			writeError(w, http.StatusConflict, "Email already registered")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": false})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
	})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"success":      true,
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

// ── prompt handlers ──

func (s *HTTPServer) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body CreatePromptInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	prompt, err := s.service.CreatePrompt(r.Context(), session, body)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": prompt})
}

func (s *HTTPServer) handleGetPrompts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page       *int     `json:"page"`
		PageSize   *int     `json:"page_size"`
		Categories []string `json:"categories"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if body.Page == nil || body.PageSize == nil {
		writeError(w, http.StatusBadRequest, "Page and Page Size is required")
		return
	}
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	prompts, err := s.service.GetPrompts(r.Context(), *body.Page, *body.PageSize, body.Categories)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	// 201 for a read is inherited wire behavior clients already rely on.
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "prompts": promptList(prompts)})
}

func (s *HTTPServer) handleGetSpecificPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	prompt, err := s.service.GetPrompt(r.Context(), body.ID)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "promptData": prompt})
}

func (s *HTTPServer) handleGetCategoricPrompts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Categories []string `json:"categories"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if len(body.Categories) == 0 {
		writeError(w, http.StatusBadRequest, "Prompt Category is Required for this API to run")
		return
	}
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	prompts, err := s.service.GetCategoricPrompts(r.Context(), body.Categories)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "prompts": promptList(prompts)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var categories []string
	if raw := strings.TrimSpace(r.URL.Query().Get("categories")); raw != "" {
		categories = strings.Split(raw, ",")
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	result, err := s.service.SearchPrompts(search.Query{
		Text:       q,
		Categories: categories,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": result.Results,
		"total":   result.Total,
		"query":   result.Query,
	})
}

// ── response handlers ──

func (s *HTTPServer) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body CreateResponseInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	resp, err := s.service.CreateResponse(r.Context(), session, body)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":        resp.ID,
			"prompt_id": resp.PromptID,
			"content":   resp.Content,
			"author":    resp.Author,
		},
	})
}

func (s *HTTPServer) handleGetResponses(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PromptID string `json:"promptId"`
		Page     *int   `json:"page"`
		PageSize *int   `json:"page_size"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if strings.TrimSpace(body.PromptID) == "" || body.Page == nil || body.PageSize == nil {
		writeError(w, http.StatusBadRequest, "Prompt ID, Page and Page Size are required")
		return
	}
	responses, err := s.service.GetResponses(r.Context(), body.PromptID, *body.Page, *body.PageSize)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	payload := responses
	if payload == nil {
		payload = []store.Response{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "responses": payload})
}

// ── export / upload handlers ──

func (s *HTTPServer) handleExportResponse(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	var body struct {
		ResponseID string `json:"responseId"`
		Format     string `json:"format"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	if strings.TrimSpace(body.ResponseID) == "" {
		writeError(w, http.StatusBadRequest, "Response ID is required")
		return
	}
	format := export.Format(body.Format)
	if format != export.FormatPDF && format != export.FormatDOCX {
		writeError(w, http.StatusBadRequest, "format must be 'pdf' or 'docx'")
		return
	}
	result, err := s.service.ExportResponse(r.Context(), export.Request{
		ResponseID: body.ResponseID,
		Format:     format,
	})
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireSession(w, r); !ok {
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "An image file is required")
		return
	}
	defer file.Close()

	url, err := s.service.UploadImage(r.Context(), file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			writeError(w, http.StatusBadRequest, "Unsupported image type")
			return
		}
		status, message := mapError(err)
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "url": url})
}

// ── plumbing ──

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "User is not authenticated")
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "User is not authenticated")
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "Not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "User is not authenticated"
	}
	return http.StatusInternalServerError, "Failed to process request"
}

func promptList(prompts []store.Prompt) []store.Prompt {
	if prompts == nil {
		return []store.Prompt{}
	}
	return prompts
}
