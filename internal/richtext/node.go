// Package richtext implements the rich-text document model used for prompt
// responses: an arena of typed nodes, a JSON codec matching the stored wire
// format, and a reducer-style editor that applies toolbar commands.
package richtext

import (
	"encoding/json"
	"fmt"
)

// NodeKey identifies a node within one document. Keys are assigned
// monotonically per document session and never reused.
type NodeKey int

// NoKey is the zero NodeKey; it never refers to a live node.
const NoKey NodeKey = 0

// NodeType discriminates the node variants.
type NodeType string

const (
	TypeRoot      NodeType = "root"
	TypeParagraph NodeType = "paragraph"
	TypeHeading   NodeType = "heading"
	TypeList      NodeType = "list"
	TypeListItem  NodeType = "listitem"
	TypeTable     NodeType = "table"
	TypeTableRow  NodeType = "tablerow"
	TypeTableCell NodeType = "tablecell"
	TypeLink      NodeType = "link"
	TypeImage     NodeType = "image"
	TypeText      NodeType = "text"
)

// Format is the bitmask carried by text nodes. The values match the integers
// persisted in stored documents, so they cannot be reordered.
type Format int

const (
	FormatBold          Format = 1 << iota // 1
	FormatItalic                           // 2
	FormatStrikethrough                    // 4
	FormatUnderline                        // 8
	FormatCode                             // 16
)

// Has reports whether all bits of other are set.
func (f Format) Has(other Format) bool { return f&other == other }

// ListKind is the list variant. The wire values come from the original
// editor: ordered lists are "number", unordered are "bullet".
type ListKind string

const (
	ListOrdered   ListKind = "number"
	ListUnordered ListKind = "bullet"
)

// Tag returns the HTML-ish tag persisted alongside the list type.
func (k ListKind) Tag() string {
	if k == ListOrdered {
		return "ol"
	}
	return "ul"
}

// HeadingLevel is 1..3; 0 means "not a heading".
type HeadingLevel int

// Tag returns the serialized heading tag ("h1".."h3").
func (l HeadingLevel) Tag() string { return fmt.Sprintf("h%d", int(l)) }

// Dimension is an image width or height: either an explicit pixel count or
// the "inherit" sentinel meaning no explicit size.
type Dimension struct {
	Inherit bool
	Px      int
}

// Inherited is the no-explicit-size sentinel.
func Inherited() Dimension { return Dimension{Inherit: true} }

// Pixels returns an explicit dimension.
func Pixels(px int) Dimension { return Dimension{Px: px} }

func (d Dimension) MarshalJSON() ([]byte, error) {
	if d.Inherit {
		return json.Marshal("inherit")
	}
	return json.Marshal(d.Px)
}

func (d *Dimension) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "inherit" {
			return fmt.Errorf("dimension: unexpected string %q", s)
		}
		*d = Dimension{Inherit: true}
		return nil
	}
	var px int
	if err := json.Unmarshal(data, &px); err != nil {
		return fmt.Errorf("dimension: %w", err)
	}
	*d = Dimension{Px: px}
	return nil
}

// Node is one arena entry. Parent/child links are keys into the owning
// document's arena rather than pointers, so subtrees carry no cyclic
// references. Only the fields matching the node's Type are meaningful.
type Node struct {
	Key      NodeKey
	Type     NodeType
	Parent   NodeKey
	Children []NodeKey

	// Text leaves.
	Text   string
	Format Format

	// Headings.
	Level HeadingLevel

	// Lists.
	List ListKind

	// Links.
	URL string

	// Images.
	Src      string
	AltText  string
	Width    Dimension
	Height   Dimension
	MaxWidth int
}

// IsBlock reports whether the type may sit directly under the root.
func (t NodeType) IsBlock() bool {
	switch t {
	case TypeParagraph, TypeHeading, TypeList, TypeTable:
		return true
	}
	return false
}

// IsLeaf reports whether the type never has children.
func (t NodeType) IsLeaf() bool { return t == TypeText || t == TypeImage }

// canContain encodes the child-placement invariants. It is the single place
// both mutations and the decoder check structure against.
func canContain(parent, child NodeType) bool {
	switch parent {
	case TypeRoot:
		return child.IsBlock()
	case TypeParagraph, TypeHeading:
		return child == TypeText || child == TypeLink || child == TypeImage
	case TypeList:
		return child == TypeListItem
	case TypeListItem:
		return child == TypeText || child == TypeLink || child == TypeImage || child == TypeList
	case TypeTable:
		return child == TypeTableRow
	case TypeTableRow:
		return child == TypeTableCell
	case TypeTableCell:
		return child == TypeParagraph || child == TypeHeading || child == TypeList
	case TypeLink:
		return child == TypeText
	}
	return false
}
