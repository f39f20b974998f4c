package richtext

import (
	"fmt"
)

// maxHistory bounds the undo stack.
const maxHistory = 100

// maxListDepth bounds list nesting; Indent is a no-op past it.
const maxListDepth = 5

// Command is a toolbar command applied against the editor's document and
// current selection. Commands are reduced synchronously: one command is one
// update transaction, and no two mutations interleave.
type Command interface{ isCommand() }

type (
	// ToggleFormat flips a format bit on the text runs covered by the
	// selection. Self-inverse.
	ToggleFormat struct{ Kind Format }
	// SetHeading converts the anchor block to a heading, or back to a
	// paragraph when it already is that heading level.
	SetHeading struct{ Level HeadingLevel }
	// ToggleList wraps or unwraps the anchor block in a list of the given
	// kind. Toggling the other kind while inside a list switches the list
	// type in one action.
	ToggleList struct{ Kind ListKind }
	// Indent deepens the anchor list item by one level.
	Indent struct{}
	// Outdent lifts the anchor list item by one level.
	Outdent struct{}
	// InsertTable inserts a rows x cols table with uniform cells.
	InsertTable struct{ Rows, Cols int }
	// InsertImage inserts an image leaf at the selection.
	InsertImage struct{ Src, AltText string }
	// Undo reverts the last change.
	Undo struct{}
	// Redo reapplies the last undone change.
	Redo struct{}
)

func (ToggleFormat) isCommand() {}
func (SetHeading) isCommand()   {}
func (ToggleList) isCommand()   {}
func (Indent) isCommand()       {}
func (Outdent) isCommand()      {}
func (InsertTable) isCommand()  {}
func (InsertImage) isCommand()  {}
func (Undo) isCommand()         {}
func (Redo) isCommand()         {}

// ToolbarState is what the toolbar renders from: the derived format state
// plus whether the history has room in either direction.
type ToolbarState struct {
	FormatState
	CanUndo bool
	CanRedo bool
}

// Editor reduces commands over a document. It owns the document exclusively;
// the toolbar state is recomputed from (document, selection) after every
// applied command rather than tracked incrementally.
type Editor struct {
	doc   *Document
	sel   *Selection
	undo  []*Document
	redo  []*Document
	state ToolbarState
}

// NewEditor returns an editor over a fresh empty document.
func NewEditor() *Editor {
	e := &Editor{doc: NewDocument()}
	e.refresh()
	return e
}

// NewEditorFor wraps an existing document, e.g. one reloaded from storage.
func NewEditorFor(doc *Document) *Editor {
	e := &Editor{doc: doc}
	e.refresh()
	return e
}

// Document exposes the underlying document for reading and serialization.
func (e *Editor) Document() *Document { return e.doc }

// Selection returns the current selection (nil when none).
func (e *Editor) Selection() *Selection { return e.sel }

// SetSelection moves the selection and recomputes toolbar state.
func (e *Editor) SetSelection(sel *Selection) {
	e.sel = sel
	e.refresh()
}

// ToolbarState returns the state derived after the last command.
func (e *Editor) ToolbarState() ToolbarState { return e.state }

func (e *Editor) refresh() {
	e.state = ToolbarState{
		FormatState: DeriveFormatState(e.doc, e.sel),
		CanUndo:     len(e.undo) > 0,
		CanRedo:     len(e.redo) > 0,
	}
}

// Apply reduces one command. Commands that would violate structural
// invariants fail without touching the document; commands whose
// preconditions are unmet are silent no-ops.
func (e *Editor) Apply(cmd Command) error {
	var err error
	switch c := cmd.(type) {
	case ToggleFormat:
		err = e.withHistory(func() (bool, error) { return e.toggleFormat(c.Kind) })
	case SetHeading:
		err = e.withHistory(func() (bool, error) { return e.setHeading(c.Level) })
	case ToggleList:
		err = e.withHistory(func() (bool, error) { return e.toggleList(c.Kind) })
	case Indent:
		err = e.withHistory(e.indent)
	case Outdent:
		err = e.withHistory(e.outdent)
	case InsertTable:
		err = e.withHistory(func() (bool, error) { return e.insertTable(c.Rows, c.Cols) })
	case InsertImage:
		err = e.withHistory(func() (bool, error) { return e.insertImage(c.Src, c.AltText) })
	case Undo:
		e.applyUndo()
	case Redo:
		e.applyRedo()
	default:
		err = fmt.Errorf("richtext: unknown command %T", cmd)
	}
	e.refresh()
	return err
}

// withHistory snapshots the document, runs the mutation, and keeps the
// snapshot only when something actually changed. A failed mutation restores
// the snapshot so no partial application leaks out.
func (e *Editor) withHistory(mutate func() (changed bool, err error)) error {
	snapshot := e.doc.Clone()
	changed, err := mutate()
	if err != nil {
		e.doc = snapshot
		return err
	}
	if !changed {
		return nil
	}
	e.undo = append(e.undo, snapshot)
	if len(e.undo) > maxHistory {
		e.undo = e.undo[1:]
	}
	e.redo = nil
	return nil
}

func (e *Editor) applyUndo() {
	if len(e.undo) == 0 {
		return
	}
	e.redo = append(e.redo, e.doc)
	e.doc = e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]
	e.reanchor()
}

func (e *Editor) applyRedo() {
	if len(e.redo) == 0 {
		return
	}
	e.undo = append(e.undo, e.doc)
	e.doc = e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]
	e.reanchor()
}

// reanchor drops the selection when its nodes no longer exist in the
// restored document.
func (e *Editor) reanchor() {
	if e.sel == nil {
		return
	}
	if _, ok := e.doc.Node(e.sel.Anchor.Key); !ok {
		e.sel = nil
		return
	}
	if _, ok := e.doc.Node(e.sel.Focus.Key); !ok {
		e.sel = nil
	}
}

// ── text formatting ──

func (e *Editor) toggleFormat(kind Format) (bool, error) {
	if e.sel == nil {
		return false, nil
	}
	runs := e.affectedRuns()
	if len(runs) == 0 {
		return false, nil
	}
	for _, run := range runs {
		// Underline and strikethrough exclude each other one way:
		// applying one clears the other first, last writer wins.
		if kind == FormatUnderline && run.Format.Has(FormatStrikethrough) && !run.Format.Has(FormatUnderline) {
			run.Format &^= FormatStrikethrough
		}
		if kind == FormatStrikethrough && run.Format.Has(FormatUnderline) && !run.Format.Has(FormatStrikethrough) {
			run.Format &^= FormatUnderline
		}
		run.Format ^= kind
	}
	e.doc.dirty = true
	return true, nil
}

// affectedRuns resolves the selection to the text runs a format toggle
// covers, splitting a partially selected run into separate runs first.
func (e *Editor) affectedRuns() []*Node {
	anchor, ok := e.doc.Node(e.sel.Anchor.Key)
	if !ok {
		return nil
	}
	if e.sel.Anchor.Key == e.sel.Focus.Key {
		if anchor.Type != TypeText {
			return nil
		}
		lo, hi := e.sel.Anchor.Offset, e.sel.Focus.Offset
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo == hi {
			// Collapsed selection toggles the whole run under the caret.
			return []*Node{anchor}
		}
		if mid := e.splitRun(anchor, lo, hi); mid != nil {
			return []*Node{mid}
		}
		return []*Node{anchor}
	}

	// Cross-node range: every text run between anchor and focus in reading
	// order, inclusive.
	var runs []*Node
	collecting := false
	startKey, endKey := e.sel.Anchor.Key, e.sel.Focus.Key
	e.doc.Walk(func(n *Node) {
		if n.Key == startKey || n.Key == endKey {
			if collecting {
				if n.Type == TypeText {
					runs = append(runs, n)
				}
				collecting = false
				return
			}
			collecting = true
		}
		if collecting && n.Type == TypeText {
			runs = append(runs, n)
		}
	})
	return runs
}

// splitRun splits run so that [lo, hi) becomes its own text node, returning
// the middle run. The selection is moved to cover it.
func (e *Editor) splitRun(run *Node, lo, hi int) *Node {
	text := []rune(run.Text)
	if lo < 0 || hi > len(text) {
		return nil
	}
	if lo == 0 && hi == len(text) {
		return run
	}
	parent := run.Parent
	index := e.doc.childIndex(parent, run.Key)
	if index < 0 {
		return nil
	}
	mid := e.doc.NewNode(TypeText)
	mid.Text = string(text[lo:hi])
	mid.Format = run.Format
	insertAt := index + 1
	if hi < len(text) {
		tail := e.doc.NewNode(TypeText)
		tail.Text = string(text[hi:])
		tail.Format = run.Format
		if err := e.doc.AttachAt(parent, tail, insertAt); err != nil {
			return nil
		}
	}
	if err := e.doc.AttachAt(parent, mid, insertAt); err != nil {
		return nil
	}
	if lo > 0 {
		run.Text = string(text[:lo])
	} else {
		_ = e.doc.Remove(run.Key)
	}
	e.sel = Range(Point{Key: mid.Key, Offset: 0}, Point{Key: mid.Key, Offset: hi - lo})
	return mid
}

// ── block formatting ──

func (e *Editor) setHeading(level HeadingLevel) (bool, error) {
	if e.sel == nil || level < 1 || level > 3 {
		return false, nil
	}
	top := e.doc.TopLevelAncestor(e.sel.Anchor.Key)
	if top == NoKey || top == e.doc.Root() {
		return false, nil
	}
	block := e.doc.MustNode(top)
	switch block.Type {
	case TypeHeading:
		if block.Level == level {
			// Toggle-off: same level converts back to a paragraph.
			_, err := e.doc.replaceBlock(top, TypeParagraph)
			return err == nil, err
		}
		block.Level = level
		e.doc.dirty = true
		return true, nil
	case TypeParagraph:
		replacement, err := e.doc.replaceBlock(top, TypeHeading)
		if err != nil {
			return false, err
		}
		replacement.Level = level
		return true, nil
	}
	return false, nil
}

func (e *Editor) toggleList(kind ListKind) (bool, error) {
	if e.sel == nil {
		return false, nil
	}
	top := e.doc.TopLevelAncestor(e.sel.Anchor.Key)
	if top == NoKey || top == e.doc.Root() {
		return false, nil
	}
	block := e.doc.MustNode(top)
	switch block.Type {
	case TypeList:
		if block.List == kind {
			return e.unwrapList(block)
		}
		// Already in a list of the other kind: switch the type in one
		// action instead of requiring remove-then-reinsert.
		block.List = kind
		e.doc.dirty = true
		return true, nil
	case TypeParagraph, TypeHeading:
		return e.wrapInList(block, kind)
	}
	return false, nil
}

func (e *Editor) wrapInList(block *Node, kind ListKind) (bool, error) {
	root := e.doc.Root()
	index := e.doc.childIndex(root, block.Key)
	if index < 0 {
		return false, nil
	}
	children := append([]NodeKey(nil), block.Children...)
	block.Children = nil
	if err := e.doc.Remove(block.Key); err != nil {
		return false, err
	}
	list := e.doc.NewNode(TypeList)
	list.List = kind
	item := e.doc.NewNode(TypeListItem)
	item.Children = children
	for _, c := range children {
		e.doc.MustNode(c).Parent = item.Key
	}
	if err := e.doc.Attach(list.Key, item); err != nil {
		return false, err
	}
	if err := e.doc.AttachAt(root, list, index); err != nil {
		return false, err
	}
	return true, nil
}

// unwrapList lifts each list item back to a root paragraph, preserving
// reading order. Nested lists inside an item are lifted to root after it.
func (e *Editor) unwrapList(list *Node) (bool, error) {
	root := e.doc.Root()
	index := e.doc.childIndex(root, list.Key)
	if index < 0 {
		return false, nil
	}
	var blocks []*Node
	for _, itemKey := range list.Children {
		item := e.doc.MustNode(itemKey)
		para := e.doc.NewNode(TypeParagraph)
		var nested []*Node
		for _, c := range item.Children {
			child := e.doc.MustNode(c)
			if child.Type == TypeList {
				nested = append(nested, child)
				continue
			}
			child.Parent = para.Key
			para.Children = append(para.Children, c)
		}
		item.Children = nil
		delete(e.doc.nodes, item.Key)
		blocks = append(blocks, para)
		for _, n := range nested {
			n.Parent = NoKey
			blocks = append(blocks, n)
		}
	}
	list.Children = nil
	if err := e.doc.Remove(list.Key); err != nil {
		return false, err
	}
	for i, b := range blocks {
		if err := e.doc.AttachAt(root, b, index+i); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *Editor) indent() (bool, error) {
	if e.sel == nil {
		return false, nil
	}
	item := e.doc.nearestAncestor(e.sel.Anchor.Key, TypeListItem)
	if item == nil {
		return false, nil
	}
	if e.listDepth(item.Key) >= maxListDepth {
		return false, nil
	}
	parent := e.doc.MustNode(item.Parent)
	index := e.doc.childIndex(parent.Key, item.Key)
	if index <= 0 {
		// First item has no previous sibling to nest under.
		return false, nil
	}
	prev := e.doc.MustNode(parent.Children[index-1])
	if err := e.doc.Detach(item.Key); err != nil {
		return false, err
	}
	// Reuse a trailing nested list on the previous sibling when present.
	if n := len(prev.Children); n > 0 {
		last := e.doc.MustNode(prev.Children[n-1])
		if last.Type == TypeList {
			return true, e.doc.Attach(last.Key, item)
		}
	}
	nested := e.doc.NewNode(TypeList)
	nested.List = parent.List
	if err := e.doc.Attach(nested.Key, item); err != nil {
		return false, err
	}
	return true, e.doc.Attach(prev.Key, nested)
}

func (e *Editor) outdent() (bool, error) {
	if e.sel == nil {
		return false, nil
	}
	item := e.doc.nearestAncestor(e.sel.Anchor.Key, TypeListItem)
	if item == nil {
		return false, nil
	}
	list := e.doc.MustNode(item.Parent)
	parentItem, ok := e.doc.Node(list.Parent)
	if !ok || parentItem.Type != TypeListItem {
		// Already at minimum depth.
		return false, nil
	}
	outerList := e.doc.MustNode(parentItem.Parent)
	at := e.doc.childIndex(outerList.Key, parentItem.Key) + 1
	if err := e.doc.Detach(item.Key); err != nil {
		return false, err
	}
	if err := e.doc.AttachAt(outerList.Key, item, at); err != nil {
		return false, err
	}
	if len(list.Children) == 0 {
		_ = e.doc.Remove(list.Key)
	}
	return true, nil
}

// listDepth counts list ancestors of a list item.
func (e *Editor) listDepth(key NodeKey) int {
	depth := 0
	for n, ok := e.doc.Node(key); ok && n.Parent != NoKey; n, ok = e.doc.Node(n.Parent) {
		if n.Type == TypeList {
			depth++
		}
	}
	return depth
}

// ── insertions ──

func (e *Editor) insertTable(rows, cols int) (bool, error) {
	if rows < 1 || cols < 1 {
		return false, fmt.Errorf("%w: table needs at least 1x1, got %dx%d", ErrStructuralViolation, rows, cols)
	}
	table := e.doc.NewNode(TypeTable)
	for r := 0; r < rows; r++ {
		row := e.doc.NewNode(TypeTableRow)
		for c := 0; c < cols; c++ {
			cell := e.doc.NewNode(TypeTableCell)
			para := e.doc.NewNode(TypeParagraph)
			if err := e.doc.Attach(cell.Key, para); err != nil {
				return false, err
			}
			if err := e.doc.Attach(row.Key, cell); err != nil {
				return false, err
			}
		}
		if err := e.doc.Attach(table.Key, row); err != nil {
			return false, err
		}
	}
	root := e.doc.Root()
	at := len(e.doc.MustNode(root).Children)
	if e.sel != nil {
		if top := e.doc.TopLevelAncestor(e.sel.Anchor.Key); top != NoKey && top != root {
			at = e.doc.childIndex(root, top) + 1
		}
	}
	return true, e.doc.AttachAt(root, table, at)
}

func (e *Editor) insertImage(src, altText string) (bool, error) {
	if src == "" || e.sel == nil {
		return false, nil
	}
	// Find the closest ancestor that may hold an image leaf.
	target := NoKey
	insertAt := -1
	for key := e.sel.Anchor.Key; key != NoKey; {
		n, ok := e.doc.Node(key)
		if !ok {
			return false, nil
		}
		if canContain(n.Type, TypeImage) {
			target = n.Key
			break
		}
		if parent, ok := e.doc.Node(n.Parent); ok && canContain(parent.Type, TypeImage) {
			insertAt = e.doc.childIndex(parent.Key, n.Key) + 1
			target = parent.Key
			break
		}
		key = n.Parent
	}
	if target == NoKey {
		return false, nil
	}
	img := e.doc.NewNode(TypeImage)
	img.Src = src
	img.AltText = altText
	img.Width = Inherited()
	img.Height = Inherited()
	img.MaxWidth = 400
	if insertAt >= 0 {
		return true, e.doc.AttachAt(target, img, insertAt)
	}
	return true, e.doc.Attach(target, img)
}
