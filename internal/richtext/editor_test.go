package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// editorWithText returns an editor whose first paragraph holds a single text
// run with the caret collapsed inside it.
func editorWithText(t *testing.T, text string) (*Editor, *Node) {
	t.Helper()
	e := NewEditor()
	d := e.Document()
	para := d.MustNode(d.MustNode(d.Root()).Children[0])
	run, err := d.AppendText(para.Key, text, 0)
	require.NoError(t, err)
	e.SetSelection(Collapse(Point{Key: run.Key}))
	return e, run
}

func TestToggleFormatSelfInverse(t *testing.T) {
	e, run := editorWithText(t, "hello")

	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))
	assert.True(t, run.Format.Has(FormatBold))
	assert.True(t, e.ToolbarState().Bold)

	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))
	assert.False(t, run.Format.Has(FormatBold))
	assert.False(t, e.ToolbarState().Bold)
}

func TestUnderlineStrikethroughExclusion(t *testing.T) {
	t.Run("strikethrough clears underline", func(t *testing.T) {
		e, run := editorWithText(t, "ink")
		require.NoError(t, e.Apply(ToggleFormat{Kind: FormatUnderline}))
		require.NoError(t, e.Apply(ToggleFormat{Kind: FormatStrikethrough}))
		assert.False(t, run.Format.Has(FormatUnderline))
		assert.True(t, run.Format.Has(FormatStrikethrough))
	})
	t.Run("underline clears strikethrough", func(t *testing.T) {
		e, run := editorWithText(t, "ink")
		require.NoError(t, e.Apply(ToggleFormat{Kind: FormatStrikethrough}))
		require.NoError(t, e.Apply(ToggleFormat{Kind: FormatUnderline}))
		assert.True(t, run.Format.Has(FormatUnderline))
		assert.False(t, run.Format.Has(FormatStrikethrough))
	})
	t.Run("other marks stack freely", func(t *testing.T) {
		e, run := editorWithText(t, "ink")
		for _, kind := range []Format{FormatBold, FormatItalic, FormatCode, FormatUnderline} {
			require.NoError(t, e.Apply(ToggleFormat{Kind: kind}))
		}
		assert.Equal(t, FormatBold|FormatItalic|FormatCode|FormatUnderline, run.Format)
	})
}

func TestToggleFormatPartialSelectionSplitsRun(t *testing.T) {
	e, run := editorWithText(t, "hello world")
	e.SetSelection(Range(Point{Key: run.Key, Offset: 6}, Point{Key: run.Key, Offset: 11}))

	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))

	d := e.Document()
	para := d.MustNode(run.Parent)
	require.Len(t, para.Children, 2)
	assert.Equal(t, "hello ", d.MustNode(para.Children[0]).Text)
	bolded := d.MustNode(para.Children[1])
	assert.Equal(t, "world", bolded.Text)
	assert.True(t, bolded.Format.Has(FormatBold))
	assert.Equal(t, "hello world", d.Text())
}

func TestToggleFormatNoSelectionIsNoOp(t *testing.T) {
	e := NewEditor()
	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestSetHeadingToggle(t *testing.T) {
	e, run := editorWithText(t, "title")

	require.NoError(t, e.Apply(SetHeading{Level: 2}))
	d := e.Document()
	block := d.MustNode(d.TopLevelAncestor(run.Key))
	assert.Equal(t, TypeHeading, block.Type)
	assert.Equal(t, HeadingLevel(2), block.Level)
	assert.Equal(t, HeadingLevel(2), e.ToolbarState().HeadingLevel)

	// Different level updates in place.
	require.NoError(t, e.Apply(SetHeading{Level: 3}))
	block = d.MustNode(d.TopLevelAncestor(run.Key))
	assert.Equal(t, HeadingLevel(3), block.Level)

	// Same level converts back to a paragraph.
	require.NoError(t, e.Apply(SetHeading{Level: 3}))
	block = d.MustNode(d.TopLevelAncestor(run.Key))
	assert.Equal(t, TypeParagraph, block.Type)
	assert.Equal(t, "title", d.Text())
	assert.Equal(t, HeadingLevel(0), e.ToolbarState().HeadingLevel)
}

func TestSetHeadingInvalidLevelIsNoOp(t *testing.T) {
	e, run := editorWithText(t, "title")
	require.NoError(t, e.Apply(SetHeading{Level: 4}))
	d := e.Document()
	assert.Equal(t, TypeParagraph, d.MustNode(d.TopLevelAncestor(run.Key)).Type)
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestToggleListWrapUnwrap(t *testing.T) {
	e, run := editorWithText(t, "step one")

	require.NoError(t, e.Apply(ToggleList{Kind: ListUnordered}))
	d := e.Document()
	list := d.MustNode(d.TopLevelAncestor(run.Key))
	require.Equal(t, TypeList, list.Type)
	assert.Equal(t, ListUnordered, list.List)
	assert.Equal(t, ListUnordered, e.ToolbarState().ListKind)
	assert.Equal(t, "step one", d.Text())

	// Same kind unwraps back to a paragraph.
	require.NoError(t, e.Apply(ToggleList{Kind: ListUnordered}))
	block := d.MustNode(d.TopLevelAncestor(run.Key))
	assert.Equal(t, TypeParagraph, block.Type)
	assert.Equal(t, "step one", d.Text())
	assert.Equal(t, ListKind(""), e.ToolbarState().ListKind)
}

func TestToggleListSwitchesKindInOneAction(t *testing.T) {
	e, run := editorWithText(t, "step one")
	require.NoError(t, e.Apply(ToggleList{Kind: ListUnordered}))

	require.NoError(t, e.Apply(ToggleList{Kind: ListOrdered}))

	d := e.Document()
	list := d.MustNode(d.TopLevelAncestor(run.Key))
	require.Equal(t, TypeList, list.Type)
	assert.Equal(t, ListOrdered, list.List)
	assert.Equal(t, ListOrdered, e.ToolbarState().ListKind)
}

// twoItemList builds a bullet list with two items and parks the caret in the
// second one.
func twoItemList(t *testing.T) (*Editor, *Node, *Node) {
	t.Helper()
	e := NewEditor()
	d := e.Document()
	require.NoError(t, d.Remove(d.MustNode(d.Root()).Children[0]))
	list := d.NewNode(TypeList)
	list.List = ListUnordered
	require.NoError(t, d.Attach(d.Root(), list))
	var runs []*Node
	for _, text := range []string{"first", "second"} {
		item := d.NewNode(TypeListItem)
		require.NoError(t, d.Attach(list.Key, item))
		run, err := d.AppendText(item.Key, text, 0)
		require.NoError(t, err)
		runs = append(runs, run)
	}
	e.SetSelection(Collapse(Point{Key: runs[1].Key}))
	return e, runs[0], runs[1]
}

func TestIndentOutdent(t *testing.T) {
	e, first, second := twoItemList(t)
	d := e.Document()

	require.NoError(t, e.Apply(Indent{}))

	// Second item now lives in a list nested under the first item.
	item := d.nearestAncestor(second.Key, TypeListItem)
	nested := d.MustNode(item.Parent)
	require.Equal(t, TypeList, nested.Type)
	owner := d.MustNode(nested.Parent)
	require.Equal(t, TypeListItem, owner.Type)
	assert.Equal(t, owner.Key, d.nearestAncestor(first.Key, TypeListItem).Key)
	assert.Equal(t, "firstsecond", d.Text())

	require.NoError(t, e.Apply(Outdent{}))

	// Back at top level, after the first item, and the emptied nested list
	// is gone.
	item = d.nearestAncestor(second.Key, TypeListItem)
	top := d.MustNode(item.Parent)
	assert.Equal(t, d.Root(), top.Parent)
	require.Len(t, top.Children, 2)
	assert.Equal(t, item.Key, top.Children[1])
	_, stillThere := d.Node(nested.Key)
	assert.False(t, stillThere)
}

func TestIndentFirstItemIsNoOp(t *testing.T) {
	e, first, _ := twoItemList(t)
	e.SetSelection(Collapse(Point{Key: first.Key}))
	require.NoError(t, e.Apply(Indent{}))
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestOutdentAtTopLevelIsNoOp(t *testing.T) {
	e, _, _ := twoItemList(t)
	require.NoError(t, e.Apply(Outdent{}))
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestIndentDepthLimit(t *testing.T) {
	e := NewEditor()
	d := e.Document()
	require.NoError(t, d.Remove(d.MustNode(d.Root()).Children[0]))

	// Nest lists down to the maximum depth, two items at the bottom so the
	// second has a sibling to nest under.
	parent := d.Root()
	var bottom *Node
	for depth := 0; depth < maxListDepth; depth++ {
		list := d.NewNode(TypeList)
		list.List = ListUnordered
		require.NoError(t, d.Attach(parent, list))
		item := d.NewNode(TypeListItem)
		require.NoError(t, d.Attach(list.Key, item))
		if depth == maxListDepth-1 {
			second := d.NewNode(TypeListItem)
			require.NoError(t, d.Attach(list.Key, second))
			var err error
			bottom, err = d.AppendText(second.Key, "leaf", 0)
			require.NoError(t, err)
		}
		parent = item.Key
	}

	e.SetSelection(Collapse(Point{Key: bottom.Key}))
	require.NoError(t, e.Apply(Indent{}))
	assert.False(t, e.ToolbarState().CanUndo)
	assert.Equal(t, maxListDepth, e.listDepth(d.nearestAncestor(bottom.Key, TypeListItem).Key))
}

func TestInsertTableValidation(t *testing.T) {
	e, _ := editorWithText(t, "before")
	snapshot, err := Marshal(e.Document().Clone())
	require.NoError(t, err)

	err = e.Apply(InsertTable{Rows: 0, Cols: 3})
	require.ErrorIs(t, err, ErrStructuralViolation)

	// Failed insert leaves the document untouched and adds no history.
	after, merr := Marshal(e.Document())
	require.NoError(t, merr)
	assert.JSONEq(t, string(snapshot), string(after))
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestInsertTablePlacement(t *testing.T) {
	e, run := editorWithText(t, "anchor")
	d := e.Document()
	trailing := d.NewNode(TypeParagraph)
	require.NoError(t, d.Attach(d.Root(), trailing))

	require.NoError(t, e.Apply(InsertTable{Rows: 2, Cols: 2}))

	root := d.MustNode(d.Root())
	require.Len(t, root.Children, 3)
	table := d.MustNode(root.Children[1])
	require.Equal(t, TypeTable, table.Type)
	require.Len(t, table.Children, 2)
	for _, rowKey := range table.Children {
		row := d.MustNode(rowKey)
		require.Len(t, row.Children, 2)
		for _, cellKey := range row.Children {
			cell := d.MustNode(cellKey)
			require.Len(t, cell.Children, 1)
			assert.Equal(t, TypeParagraph, d.MustNode(cell.Children[0]).Type)
		}
	}
	assert.Equal(t, d.TopLevelAncestor(run.Key), root.Children[0])
}

func TestInsertImage(t *testing.T) {
	e, run := editorWithText(t, "caption")

	require.NoError(t, e.Apply(InsertImage{Src: "https://cdn.example.com/a.png", AltText: "sketch"}))

	d := e.Document()
	para := d.MustNode(run.Parent)
	require.Len(t, para.Children, 2)
	img := d.MustNode(para.Children[1])
	require.Equal(t, TypeImage, img.Type)
	assert.Equal(t, "https://cdn.example.com/a.png", img.Src)
	assert.Equal(t, "sketch", img.AltText)
	assert.True(t, img.Width.Inherit)
	assert.True(t, img.Height.Inherit)
	assert.Equal(t, 400, img.MaxWidth)
}

func TestInsertImageEmptySrcIsNoOp(t *testing.T) {
	e, run := editorWithText(t, "caption")
	require.NoError(t, e.Apply(InsertImage{Src: ""}))
	d := e.Document()
	assert.Len(t, d.MustNode(run.Parent).Children, 1)
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestUndoRedo(t *testing.T) {
	e, _ := editorWithText(t, "draft")
	assert.False(t, e.ToolbarState().CanUndo)
	assert.False(t, e.ToolbarState().CanRedo)

	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))
	require.NoError(t, e.Apply(SetHeading{Level: 1}))
	assert.True(t, e.ToolbarState().CanUndo)

	require.NoError(t, e.Apply(Undo{}))
	d := e.Document()
	assert.Equal(t, TypeParagraph, d.MustNode(d.MustNode(d.Root()).Children[0]).Type)
	assert.True(t, e.ToolbarState().CanRedo)

	require.NoError(t, e.Apply(Redo{}))
	d = e.Document()
	assert.Equal(t, TypeHeading, d.MustNode(d.MustNode(d.Root()).Children[0]).Type)
	assert.False(t, e.ToolbarState().CanRedo)

	// Undo past the bottom of the stack is a no-op.
	require.NoError(t, e.Apply(Undo{}))
	require.NoError(t, e.Apply(Undo{}))
	require.NoError(t, e.Apply(Undo{}))
	assert.False(t, e.ToolbarState().CanUndo)
	assert.Equal(t, "draft", e.Document().Text())
}

func TestUndoClearsRedoOnNewEdit(t *testing.T) {
	e, _ := editorWithText(t, "draft")
	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatBold}))
	require.NoError(t, e.Apply(Undo{}))
	require.True(t, e.ToolbarState().CanRedo)

	require.NoError(t, e.Apply(ToggleFormat{Kind: FormatItalic}))
	assert.False(t, e.ToolbarState().CanRedo)
}

func TestNoOpCommandAddsNoHistory(t *testing.T) {
	e := NewEditor()
	require.NoError(t, e.Apply(ToggleList{Kind: ListOrdered}))
	require.NoError(t, e.Apply(Indent{}))
	require.NoError(t, e.Apply(SetHeading{Level: 1}))
	assert.False(t, e.ToolbarState().CanUndo)
}

func TestDeriveFormatStateNilSelection(t *testing.T) {
	d := NewDocument()
	assert.Equal(t, FormatState{}, DeriveFormatState(d, nil))
}
