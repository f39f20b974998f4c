package export

import (
	"context"
	"fmt"
	"html/template"

	"github.com/rs/zerolog"

	"inkwell/api/internal/richtext"
	"inkwell/api/internal/store"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetResponse(ctx context.Context, responseID string) (store.Response, error)
	GetPrompt(ctx context.Context, promptID string) (store.Prompt, error)
}

// Service provides response export functionality
type Service struct {
	store      DataStore
	chromePath string
	log        zerolog.Logger
}

// NewService creates a new export service. chromePath optionally pins the
// browser binary used for PDF rendering; empty means look it up on PATH.
func NewService(store DataStore, chromePath string, log zerolog.Logger) *Service {
	return &Service{store: store, chromePath: chromePath, log: log}
}

// Export renders a response in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	resp, err := s.store.GetResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}

	prompt, err := s.store.GetPrompt(ctx, resp.PromptID)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}

	doc, err := richtext.Unmarshal(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		PromptTitle: prompt.Title,
		Author:      resp.Author,
		CreatedAt:   resp.CreatedAt,
		ContentHTML: template.HTML(richtext.RenderHTML(doc)),
	}
	if prompt.Text != nil {
		data.PromptText = *prompt.Text
	}

	html, err := RenderResponseHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	s.log.Debug().Str("response_id", req.ResponseID).Str("format", string(req.Format)).Msg("exporting response")

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, prompt.Title, s.chromePath)
	case FormatDOCX:
		return exportDOCX(html, prompt.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
