// Package pestruct defines the parsed-binary data model: the structure tree
// emitted by the PE mapper, the byte regions that drive highlighting and
// entropy analysis, and the bit-exact value codecs (DOS date/time, ULEB128)
// used by the host's inspect command to interpret raw bytes.
package pestruct

// Value is the tagged union carried by a structure node.
type Value struct {
	Kind  ValueKind
	Int   uint64
	Float float64
	Bytes []byte
}

// ValueKind discriminates Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueInt
	ValueFloat
	ValueBytes
)

// IntValue wraps an integer.
func IntValue(v uint64) *Value { return &Value{Kind: ValueInt, Int: v} }

// BytesValue wraps a byte string.
func BytesValue(b []byte) *Value { return &Value{Kind: ValueBytes, Bytes: b} }

// Node is one element of the structure tree produced by a parse. Offsets are
// absolute file offsets, including on children. Nodes are immutable once the
// parse returns; detection, scripting, and hosts read them concurrently.
type Node struct {
	Name         string
	Type         string // free-form tag, e.g. "IMAGE_DOS_HEADER"
	Offset       uint64
	HasOffset    bool
	Size         uint64
	HasSize      bool
	Value        *Value
	DisplayValue string
	Children     []*Node
	Parent       *Node
	Metadata     map[string]string
}

// NewNode creates a node with the given name and type tag.
func NewNode(name, typ string) *Node {
	return &Node{Name: name, Type: typ, Metadata: make(map[string]string)}
}

// At sets the absolute offset and size.
func (n *Node) At(off, size uint64) *Node {
	n.Offset, n.HasOffset = off, true
	n.Size, n.HasSize = size, true
	return n
}

// Add appends child and sets its parent back-reference.
func (n *Node) Add(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindByPath descends the tree matching each segment against child names.
// Matching is case-sensitive. Returns nil when any segment misses.
func (n *Node) FindByPath(segments ...string) *Node {
	cur := n
	for _, seg := range segments {
		cur = cur.Child(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits n and every descendant in depth-first order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
