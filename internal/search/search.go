package search

// Result is a single prompt hit returned to the caller.
type Result struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	Author     string   `json:"author"`
	Categories []string `json:"categories"`
}

// Query describes a prompt search request.
type Query struct {
	Text       string
	Categories []string // non-empty = require all of them
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text prompt search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PromptRecord is the data we index per prompt.
type PromptRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Prompt     string   `json:"prompt"`
	Author     string   `json:"author"`
	Categories []string `json:"categories"`
}
