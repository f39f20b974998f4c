package richtext

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStructuralViolation is wrapped by every error returned for a mutation
// that would break the document invariants. Violating mutations are rejected
// before anything is applied; a document is never left half-mutated.
var ErrStructuralViolation = errors.New("structural violation")

// Document is an ordered tree of typed nodes held in an arena keyed by
// NodeKey. Exactly one root exists; its children are block-level nodes only.
type Document struct {
	nodes   map[NodeKey]*Node
	root    NodeKey
	nextKey NodeKey

	// dirty tracks whether the tree changed since the last Marshal, so
	// unchanged documents are not re-serialized.
	dirty  bool
	cached []byte
}

// NewDocument returns the canonical empty document: a root containing
// exactly one empty paragraph.
func NewDocument() *Document {
	d := &Document{nodes: make(map[NodeKey]*Node), dirty: true}
	root := d.alloc(TypeRoot)
	d.root = root.Key
	para := d.alloc(TypeParagraph)
	para.Parent = root.Key
	root.Children = []NodeKey{para.Key}
	return d
}

func (d *Document) alloc(t NodeType) *Node {
	d.nextKey++
	n := &Node{Key: d.nextKey, Type: t}
	d.nodes[n.Key] = n
	return n
}

// NewNode allocates an unattached node in the arena. It must be attached
// with Attach or AttachAt before serialization walks can reach it.
func (d *Document) NewNode(t NodeType) *Node {
	d.dirty = true
	return d.alloc(t)
}

// Root returns the root node's key.
func (d *Document) Root() NodeKey { return d.root }

// Node looks a key up in the arena.
func (d *Document) Node(key NodeKey) (*Node, bool) {
	n, ok := d.nodes[key]
	return n, ok
}

// MustNode is Node for keys the caller knows are live.
func (d *Document) MustNode(key NodeKey) *Node {
	n, ok := d.nodes[key]
	if !ok {
		panic(fmt.Sprintf("richtext: no node with key %d", key))
	}
	return n
}

// Attach appends child under parent, enforcing placement invariants.
func (d *Document) Attach(parent NodeKey, child *Node) error {
	p, ok := d.nodes[parent]
	if !ok {
		return fmt.Errorf("%w: attach under unknown node %d", ErrStructuralViolation, parent)
	}
	return d.attachAt(p, child, len(p.Children))
}

// AttachAt inserts child under parent at the given index in the child order.
func (d *Document) AttachAt(parent NodeKey, child *Node, index int) error {
	p, ok := d.nodes[parent]
	if !ok {
		return fmt.Errorf("%w: attach under unknown node %d", ErrStructuralViolation, parent)
	}
	if index < 0 || index > len(p.Children) {
		return fmt.Errorf("%w: attach index %d out of range", ErrStructuralViolation, index)
	}
	return d.attachAt(p, child, index)
}

func (d *Document) attachAt(p *Node, child *Node, index int) error {
	if !canContain(p.Type, child.Type) {
		return fmt.Errorf("%w: %s cannot contain %s", ErrStructuralViolation, p.Type, child.Type)
	}
	if child.Parent != NoKey {
		return fmt.Errorf("%w: node %d is already attached", ErrStructuralViolation, child.Key)
	}
	child.Parent = p.Key
	p.Children = append(p.Children, NoKey)
	copy(p.Children[index+1:], p.Children[index:])
	p.Children[index] = child.Key
	d.dirty = true
	return nil
}

// Detach removes the node from its parent's child order but leaves the
// subtree in the arena so it can be re-attached elsewhere.
func (d *Document) Detach(key NodeKey) error {
	n, ok := d.nodes[key]
	if !ok {
		return fmt.Errorf("%w: detach unknown node %d", ErrStructuralViolation, key)
	}
	if key == d.root {
		return fmt.Errorf("%w: cannot detach the root", ErrStructuralViolation)
	}
	p := d.nodes[n.Parent]
	if p != nil {
		p.Children = removeKey(p.Children, key)
	}
	n.Parent = NoKey
	d.dirty = true
	return nil
}

// Remove detaches the node and frees its whole subtree from the arena.
func (d *Document) Remove(key NodeKey) error {
	if err := d.Detach(key); err != nil {
		return err
	}
	d.free(key)
	return nil
}

func (d *Document) free(key NodeKey) {
	n, ok := d.nodes[key]
	if !ok {
		return
	}
	for _, c := range n.Children {
		d.free(c)
	}
	delete(d.nodes, key)
}

// childIndex returns the position of key within parent's child order.
func (d *Document) childIndex(parent, key NodeKey) int {
	p, ok := d.nodes[parent]
	if !ok {
		return -1
	}
	for i, c := range p.Children {
		if c == key {
			return i
		}
	}
	return -1
}

// TopLevelAncestor walks parents until reaching a direct child of the root.
// Passing the root itself returns the root key unchanged.
func (d *Document) TopLevelAncestor(key NodeKey) NodeKey {
	n, ok := d.nodes[key]
	if !ok {
		return NoKey
	}
	for n.Parent != NoKey && n.Parent != d.root {
		n = d.nodes[n.Parent]
	}
	if n.Key == d.root {
		return d.root
	}
	return n.Key
}

// nearestAncestor returns the closest ancestor (including key itself) of the
// given type, or nil.
func (d *Document) nearestAncestor(key NodeKey, t NodeType) *Node {
	for n, ok := d.nodes[key]; ok; n, ok = d.nodes[n.Parent] {
		if n.Type == t {
			return n
		}
		if n.Parent == NoKey {
			return nil
		}
	}
	return nil
}

// IsEmpty reports the canonical blank-document condition: exactly one child
// under root, that child is a paragraph, and the flattened text is empty.
func (d *Document) IsEmpty() bool {
	root := d.nodes[d.root]
	if len(root.Children) != 1 {
		return false
	}
	first := d.nodes[root.Children[0]]
	if first.Type != TypeParagraph {
		return false
	}
	return d.textOf(first.Key) == ""
}

// Text returns the document's flattened text content in reading order.
func (d *Document) Text() string { return d.textOf(d.root) }

func (d *Document) textOf(key NodeKey) string {
	var b strings.Builder
	d.walk(key, func(n *Node) {
		if n.Type == TypeText {
			b.WriteString(n.Text)
		}
	})
	return b.String()
}

// walk visits the subtree rooted at key in reading order.
func (d *Document) walk(key NodeKey, visit func(*Node)) {
	n, ok := d.nodes[key]
	if !ok {
		return
	}
	visit(n)
	for _, c := range n.Children {
		d.walk(c, visit)
	}
}

// Walk visits every node from the root in reading order.
func (d *Document) Walk(visit func(*Node)) { d.walk(d.root, visit) }

// Clone deep-copies the document. Node keys are preserved so selections
// remain valid against the copy; the clone gets its own arena.
func (d *Document) Clone() *Document {
	out := &Document{
		nodes:   make(map[NodeKey]*Node, len(d.nodes)),
		root:    d.root,
		nextKey: d.nextKey,
		dirty:   true,
	}
	for k, n := range d.nodes {
		copied := *n
		copied.Children = append([]NodeKey(nil), n.Children...)
		out.nodes[k] = &copied
	}
	return out
}

// replaceBlock swaps a top-level block for a fresh node of another type,
// moving the children over. The clone takes the same position in the parent
// child order but gets a new key, since it is a different node type.
func (d *Document) replaceBlock(key NodeKey, t NodeType) (*Node, error) {
	old, ok := d.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: replace unknown node %d", ErrStructuralViolation, key)
	}
	parent := old.Parent
	index := d.childIndex(parent, key)
	if index < 0 {
		return nil, fmt.Errorf("%w: node %d has no parent position", ErrStructuralViolation, key)
	}
	replacement := d.alloc(t)
	children := append([]NodeKey(nil), old.Children...)
	for _, c := range children {
		child := d.nodes[c]
		if !canContain(t, child.Type) {
			delete(d.nodes, replacement.Key)
			return nil, fmt.Errorf("%w: %s cannot contain %s", ErrStructuralViolation, t, child.Type)
		}
	}
	old.Children = nil
	if err := d.Remove(key); err != nil {
		delete(d.nodes, replacement.Key)
		return nil, err
	}
	p := d.nodes[parent]
	replacement.Parent = parent
	replacement.Children = children
	for _, c := range children {
		d.nodes[c].Parent = replacement.Key
	}
	p.Children = append(p.Children, NoKey)
	copy(p.Children[index+1:], p.Children[index:])
	p.Children[index] = replacement.Key
	d.dirty = true
	return replacement, nil
}

// AppendText is a convenience used by callers building documents by hand:
// it appends a text run with the given format to the node.
func (d *Document) AppendText(parent NodeKey, text string, format Format) (*Node, error) {
	n := d.NewNode(TypeText)
	n.Text = text
	n.Format = format
	if err := d.Attach(parent, n); err != nil {
		delete(d.nodes, n.Key)
		return nil, err
	}
	return n, nil
}

func removeKey(keys []NodeKey, key NodeKey) []NodeKey {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
