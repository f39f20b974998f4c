package richtext

// Point addresses a position inside a node: for text nodes the offset is a
// rune index into the run, for containers an index into the child order.
type Point struct {
	Key    NodeKey
	Offset int
}

// Selection is a transient anchor/focus pair. It never persists across
// document reloads. A nil *Selection means "no selection".
type Selection struct {
	Anchor Point
	Focus  Point
}

// Collapsed reports whether anchor and focus coincide.
func (s *Selection) Collapsed() bool {
	return s.Anchor == s.Focus
}

// Collapse returns a collapsed selection at the given point.
func Collapse(p Point) *Selection { return &Selection{Anchor: p, Focus: p} }

// Range returns a range selection between two points.
func Range(anchor, focus Point) *Selection { return &Selection{Anchor: anchor, Focus: focus} }

// FormatState is the derived toolbar state for one (document, selection)
// pair: which text formats are active at the anchor and which block type the
// anchor sits in. It is recomputed from scratch after every mutation; it is
// never tracked incrementally.
type FormatState struct {
	Bold          bool
	Italic        bool
	Underline     bool
	Strikethrough bool
	Code          bool

	// HeadingLevel is 0 when the anchor block is not a heading.
	HeadingLevel HeadingLevel
	// ListKind is "" when the anchor is not inside a list.
	ListKind ListKind
}

// DeriveFormatState computes the toolbar state as a pure function of the
// document and selection. A nil selection, or an anchor whose topmost
// ancestor is the root itself, yields the zero state rather than an error.
func DeriveFormatState(d *Document, sel *Selection) FormatState {
	var state FormatState
	if sel == nil {
		return state
	}
	anchor, ok := d.Node(sel.Anchor.Key)
	if !ok {
		return state
	}
	if anchor.Type == TypeText {
		state.Bold = anchor.Format.Has(FormatBold)
		state.Italic = anchor.Format.Has(FormatItalic)
		state.Underline = anchor.Format.Has(FormatUnderline)
		state.Strikethrough = anchor.Format.Has(FormatStrikethrough)
		state.Code = anchor.Format.Has(FormatCode)
	}

	top := d.TopLevelAncestor(sel.Anchor.Key)
	if top == NoKey || top == d.Root() {
		// Selection sits directly under root with no block wrapper:
		// block detection short-circuits to "none".
		return state
	}
	block := d.MustNode(top)
	if block.Type == TypeHeading {
		state.HeadingLevel = block.Level
	}
	if list := d.nearestAncestor(sel.Anchor.Key, TypeList); list != nil {
		state.ListKind = list.List
	}
	return state
}
