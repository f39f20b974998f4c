package richtext

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Mode is the editability state of a mounted document.
type Mode int

const (
	// Editable documents accept commands and submission.
	Editable Mode = iota
	// ReadOnly documents reject both; viewers and submitted composers sit
	// here.
	ReadOnly
)

// ErrEmptySubmit is the user-visible rejection for submitting the empty
// sentinel document.
var ErrEmptySubmit = errors.New("cannot submit empty response")

// ErrReadOnly rejects commands and submission against a locked document.
var ErrReadOnly = errors.New("document is read-only")

// ResponseCreator is the external collaborator a composer hands serialized
// content to on submit.
type ResponseCreator interface {
	CreateResponse(ctx context.Context, promptID string, content []byte) error
}

// Composer is an editable mounted document used to write one response. The
// document is exclusively owned: it is never shared with another composer or
// viewer instance.
type Composer struct {
	editor   *Editor
	promptID string
	creator  ResponseCreator
	mode     Mode
	draft    []byte
}

// NewComposer mounts a fresh empty editable composer for one prompt.
func NewComposer(promptID string, creator ResponseCreator) *Composer {
	return &Composer{
		editor:   NewEditor(),
		promptID: promptID,
		creator:  creator,
		mode:     Editable,
	}
}

// Editor returns the composer's editor.
func (c *Composer) Editor() *Editor { return c.editor }

// Mode returns the current editability state.
func (c *Composer) Mode() Mode { return c.mode }

// Lock moves the composer to ReadOnly without submitting.
func (c *Composer) Lock() { c.mode = ReadOnly }

// Apply forwards a command to the editor when editable.
func (c *Composer) Apply(cmd Command) error {
	if c.mode != Editable {
		return ErrReadOnly
	}
	return c.editor.Apply(cmd)
}

// SaveDraft serializes the current document and keeps it as the pending
// draft, mirroring how the original toolbar caches content between updates.
func (c *Composer) SaveDraft() error {
	data, err := Marshal(c.editor.Document())
	if err != nil {
		return err
	}
	c.draft = data
	return nil
}

// Draft returns the last saved draft bytes, nil when none is pending.
func (c *Composer) Draft() []byte { return c.draft }

// Submit serializes the document and hands it to the response creator.
// Empty documents are rejected before any network call. On success the
// document resets to the empty sentinel, the pending draft is dropped, and
// the composer locks until remounted.
func (c *Composer) Submit(ctx context.Context) error {
	if c.mode != Editable {
		return ErrReadOnly
	}
	doc := c.editor.Document()
	if doc.IsEmpty() {
		return ErrEmptySubmit
	}
	data, err := Marshal(doc)
	if err != nil {
		return err
	}
	if err := c.creator.CreateResponse(ctx, c.promptID, data); err != nil {
		return err
	}
	c.editor = NewEditor()
	c.draft = nil
	c.mode = ReadOnly
	return nil
}

// Remount resets the composer to a fresh empty editable document.
func (c *Composer) Remount() {
	c.editor = NewEditor()
	c.draft = nil
	c.mode = Editable
}

// Viewer is a read-only mounted document reconstructed from stored JSON.
type Viewer struct {
	doc *Document
}

// NewViewer decodes stored content for display. Undecodable content must
// not break browsing: it degrades to an empty valid document and the
// failure is logged.
func NewViewer(content []byte, log zerolog.Logger) *Viewer {
	if len(content) == 0 {
		return &Viewer{doc: NewDocument()}
	}
	doc, err := Unmarshal(content)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable response content, rendering empty")
		return &Viewer{doc: NewDocument()}
	}
	return &Viewer{doc: doc}
}

// Document returns the viewer's document. Callers may only read it.
func (v *Viewer) Document() *Document { return v.doc }

// Mode always reports ReadOnly for viewers.
func (v *Viewer) Mode() Mode { return ReadOnly }
