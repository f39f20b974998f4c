// Package feed maintains the paginated, live-updating list of responses
// shown under a prompt. Pages load on demand as the reader scrolls and
// realtime inserts are folded in at the top without disturbing pagination.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPageSize matches the page window the response list loads per scroll.
const DefaultPageSize = 10

// Response is one rendered entry in the feed. Content is the stored rich
// text JSON, decoded lazily by whoever displays it.
type Response struct {
	ID        string          `json:"id"`
	PromptID  string          `json:"promptId"`
	Author    string          `json:"author"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChangeEvent is a realtime notification that a response row changed.
// Only inserts affect the feed today; other operations pass through unused.
type ChangeEvent struct {
	Op       string   `json:"op"`
	Response Response `json:"response"`
}

// OpInsert is the only change operation the feed reacts to.
const OpInsert = "INSERT"

// Fetcher loads one page of responses for a prompt, newest first.
// Page is zero-based and size is the page window.
type Fetcher interface {
	FetchResponses(ctx context.Context, promptID string, page, size int) ([]Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, promptID string, page, size int) ([]Response, error)

func (f FetcherFunc) FetchResponses(ctx context.Context, promptID string, page, size int) ([]Response, error) {
	return f(ctx, promptID, page, size)
}

// Feed is the controller behind a prompt's response list. It is safe for
// concurrent use: the scroll handler and the realtime loop touch it from
// different goroutines.
type Feed struct {
	promptID string
	fetcher  Fetcher
	size     int
	log      zerolog.Logger

	mu        sync.Mutex
	items     []Response
	seen      map[string]struct{}
	page      int
	exhausted bool
	loading   bool
	closed    bool
}

// Option tweaks feed construction.
type Option func(*Feed)

// WithPageSize overrides the page window.
func WithPageSize(size int) Option {
	return func(f *Feed) {
		if size > 0 {
			f.size = size
		}
	}
}

// WithLogger attaches a logger for realtime and fetch diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Feed) { f.log = log }
}

// New returns an empty feed for the given prompt. Nothing is fetched until
// the first LoadNextPage.
func New(promptID string, fetcher Fetcher, opts ...Option) *Feed {
	f := &Feed{
		promptID: promptID,
		fetcher:  fetcher,
		size:     DefaultPageSize,
		log:      zerolog.Nop(),
		seen:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Items returns a snapshot of the feed in display order, newest first.
func (f *Feed) Items() []Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Response, len(f.items))
	copy(out, f.items)
	return out
}

// HasMore reports whether another page may exist.
func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.exhausted
}

// Loading reports whether a page fetch is in flight.
func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// LoadNextPage fetches the next page and appends its unseen responses.
// It is a no-op when the feed is exhausted, closed, or already loading.
// The page cursor only advances on a successful fetch, so a failed page
// is retried by the next call.
func (f *Feed) LoadNextPage(ctx context.Context) error {
	f.mu.Lock()
	if f.closed || f.exhausted || f.loading {
		f.mu.Unlock()
		return nil
	}
	f.loading = true
	page := f.page
	f.mu.Unlock()

	batch, err := f.fetcher.FetchResponses(ctx, f.promptID, page, f.size)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	if err != nil {
		return err
	}
	if f.closed {
		// Closed while the fetch was in flight; drop the result.
		return nil
	}
	for _, r := range batch {
		if _, dup := f.seen[r.ID]; dup {
			continue
		}
		f.seen[r.ID] = struct{}{}
		f.items = append(f.items, r)
	}
	f.page = page + 1
	if len(batch) < f.size {
		f.exhausted = true
	}
	return nil
}

// OnInsert folds a realtime insert into the top of the feed. Inserts for
// other prompts and responses already present are ignored, so a row that
// arrives both via realtime and via pagination shows once.
func (f *Feed) OnInsert(r Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || r.PromptID != f.promptID {
		return
	}
	if _, dup := f.seen[r.ID]; dup {
		return
	}
	f.seen[r.ID] = struct{}{}
	f.items = append([]Response{r}, f.items...)
}

// Run consumes change events until the channel closes or the context is
// done. It is the subscription half of the live feed; pair it with a
// realtime broker subscription.
func (f *Feed) Run(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op != OpInsert {
				continue
			}
			f.log.Debug().Str("response_id", ev.Response.ID).Msg("realtime insert")
			f.OnInsert(ev.Response)
		}
	}
}

// Close detaches the feed. Subsequent loads and inserts are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
