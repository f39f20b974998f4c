package export

import (
	"bytes"
	"html/template"
	"time"
)

// SafeHTML marks an already-sanitized string as safe for the template.
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var responseTemplate = template.Must(template.New("response").Funcs(template.FuncMap{
	"safeHTML": SafeHTML,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(responseTemplateHTML))

// TemplateData holds data for response template rendering
type TemplateData struct {
	PromptTitle string
	PromptText  string
	Author      string
	CreatedAt   time.Time
	ContentHTML template.HTML
}

// RenderResponseHTML renders the response export template.
func RenderResponseHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := responseTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const responseTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.PromptTitle}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .prompt-text { color: #444; font-style: italic; margin-bottom: 1rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    img { max-width: 400px; height: auto; }
    table { border-collapse: collapse; }
    td { border: 1px solid #999; padding: 0.4rem; }
  </style>
</head>
<body>
  <h1>{{.PromptTitle}}</h1>
  {{if .PromptText}}<p class="prompt-text">{{.PromptText}}</p>{{end}}
  <div class="meta">{{.Author}} | {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
