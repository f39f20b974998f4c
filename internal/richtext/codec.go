package richtext

import (
	"encoding/json"
	"fmt"
)

// nodeVersion is written on every serialized node. Decoding tolerates any
// version plus unknown extra fields; unknown node types fail decode.
const nodeVersion = 1

// DecodeError reports a stored document that could not be reconstructed.
// Viewers recover from it by falling back to an empty document; the create
// boundary surfaces it as a validation failure.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode document: " + e.Reason }

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// serializedNode mirrors the persisted wire shape: a type discriminator and
// per-node version, children in reading order, and the variant fields.
type serializedNode struct {
	Type     string           `json:"type"`
	Version  int              `json:"version"`
	Children []serializedNode `json:"children,omitempty"`
	Text     string           `json:"text,omitempty"`
	Format   int              `json:"format,omitempty"`
	Tag      string           `json:"tag,omitempty"`
	ListType string           `json:"listType,omitempty"`
	URL      string           `json:"url,omitempty"`
	Src      string           `json:"src,omitempty"`
	AltText  string           `json:"altText,omitempty"`
	Width    *Dimension       `json:"width,omitempty"`
	Height   *Dimension       `json:"height,omitempty"`
	MaxWidth int              `json:"maxWidth,omitempty"`
}

type serializedDocument struct {
	Root serializedNode `json:"root"`
}

// Marshal serializes the document to its portable JSON form. The result is
// deterministic and cached until the next mutation.
func Marshal(d *Document) ([]byte, error) {
	if !d.dirty && d.cached != nil {
		return d.cached, nil
	}
	root, err := exportNode(d, d.root)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(serializedDocument{Root: root})
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	d.cached = data
	d.dirty = false
	return data, nil
}

func exportNode(d *Document, key NodeKey) (serializedNode, error) {
	n, ok := d.Node(key)
	if !ok {
		return serializedNode{}, fmt.Errorf("marshal document: dangling child key %d", key)
	}
	out := serializedNode{Type: string(n.Type), Version: nodeVersion}
	switch n.Type {
	case TypeText:
		out.Text = n.Text
		out.Format = int(n.Format)
		return out, nil
	case TypeImage:
		width := n.Width
		height := n.Height
		out.Src = n.Src
		out.AltText = n.AltText
		out.Width = &width
		out.Height = &height
		out.MaxWidth = n.MaxWidth
		return out, nil
	case TypeHeading:
		out.Tag = n.Level.Tag()
	case TypeList:
		out.ListType = string(n.List)
		out.Tag = n.List.Tag()
	case TypeLink:
		out.URL = n.URL
	}
	for _, c := range n.Children {
		child, err := exportNode(d, c)
		if err != nil {
			return serializedNode{}, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// Unmarshal reconstructs a document from its JSON form. Child order is
// preserved exactly; placement invariants are re-validated, so a stored blob
// that claims a table row directly under root fails with a DecodeError.
func Unmarshal(data []byte) (*Document, error) {
	var wrapper serializedDocument
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, decodeErrorf("invalid JSON: %v", err)
	}
	if wrapper.Root.Type != string(TypeRoot) {
		return nil, decodeErrorf("document root has type %q", wrapper.Root.Type)
	}
	d := &Document{nodes: make(map[NodeKey]*Node), dirty: true}
	root := d.alloc(TypeRoot)
	d.root = root.Key
	for _, child := range wrapper.Root.Children {
		if err := importNode(d, root, child); err != nil {
			return nil, err
		}
	}
	// An empty serialized root still decodes to the empty sentinel.
	if len(root.Children) == 0 {
		para := d.alloc(TypeParagraph)
		para.Parent = root.Key
		root.Children = []NodeKey{para.Key}
	}
	return d, nil
}

func importNode(d *Document, parent *Node, in serializedNode) error {
	t, err := nodeTypeOf(in.Type)
	if err != nil {
		return err
	}
	if !canContain(parent.Type, t) {
		return decodeErrorf("%s cannot contain %s", parent.Type, t)
	}
	n := d.alloc(t)
	switch t {
	case TypeText:
		n.Text = in.Text
		n.Format = Format(in.Format)
	case TypeHeading:
		level, err := headingLevelOf(in.Tag)
		if err != nil {
			return err
		}
		n.Level = level
	case TypeList:
		switch ListKind(in.ListType) {
		case ListOrdered, ListUnordered:
			n.List = ListKind(in.ListType)
		default:
			return decodeErrorf("unknown list type %q", in.ListType)
		}
	case TypeLink:
		n.URL = in.URL
	case TypeImage:
		if in.Src == "" {
			return decodeErrorf("image node without src")
		}
		n.Src = in.Src
		n.AltText = in.AltText
		n.Width = Inherited()
		n.Height = Inherited()
		if in.Width != nil {
			n.Width = *in.Width
		}
		if in.Height != nil {
			n.Height = *in.Height
		}
		n.MaxWidth = in.MaxWidth
	}
	n.Parent = parent.Key
	parent.Children = append(parent.Children, n.Key)
	if t.IsLeaf() && len(in.Children) > 0 {
		return decodeErrorf("%s is a leaf but has children", t)
	}
	for _, child := range in.Children {
		if err := importNode(d, n, child); err != nil {
			return err
		}
	}
	if t == TypeTable {
		if err := validateTable(d, n); err != nil {
			return err
		}
	}
	return nil
}

func nodeTypeOf(raw string) (NodeType, error) {
	switch t := NodeType(raw); t {
	case TypeParagraph, TypeHeading, TypeList, TypeListItem, TypeTable,
		TypeTableRow, TypeTableCell, TypeLink, TypeImage, TypeText:
		return t, nil
	}
	return "", decodeErrorf("unknown node type %q", raw)
}

func headingLevelOf(tag string) (HeadingLevel, error) {
	switch tag {
	case "h1":
		return 1, nil
	case "h2":
		return 2, nil
	case "h3":
		return 3, nil
	}
	return 0, decodeErrorf("unknown heading tag %q", tag)
}

// validateTable checks that every row carries the same cell count. This runs
// at creation/decode time only, matching the model's construction-time rule.
func validateTable(d *Document, table *Node) error {
	if len(table.Children) == 0 {
		return decodeErrorf("table without rows")
	}
	want := -1
	for _, rowKey := range table.Children {
		row := d.MustNode(rowKey)
		if want == -1 {
			want = len(row.Children)
			continue
		}
		if len(row.Children) != want {
			return decodeErrorf("table rows have uneven cell counts (%d vs %d)", want, len(row.Children))
		}
	}
	return nil
}
