// File: internal/ast/tree.go
package ast

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Tree owns every node of one file. Nodes live in a flat arena and reference
// their children by index.
type Tree struct {
	id      uuid.UUID
	path    string
	version atomic.Uint64
	nodes   []Node
	roots   []NodeID
}

// Builder assembles a Tree. A node can only be attached to a parent that already
// exists, which keeps the arena acyclic by construction.
type Builder struct {
	path  string
	nodes []Node
	roots []NodeID
}

// NewBuilder starts a tree for the given file path.
func NewBuilder(path string) *Builder {
	return &Builder{path: path}
}

// Add appends n under parent (NoNode for a root) and returns its id.
func (b *Builder) Add(parent NodeID, n Node) (NodeID, error) {
	id := NodeID(len(b.nodes))
	n.Children = nil
	n.parent = parent
	if parent == NoNode {
		n.depth = 0
		b.roots = append(b.roots, id)
	} else {
		if parent < 0 || int(parent) >= len(b.nodes) {
			return NoNode, fmt.Errorf("ast: parent %d does not exist", parent)
		}
		n.depth = b.nodes[parent].depth + 1
		b.nodes[parent].Children = append(b.nodes[parent].Children, id)
	}
	b.nodes = append(b.nodes, n)
	return id, nil
}

// MustAdd is Add for fixtures and producers that control their own parent ids.
func (b *Builder) MustAdd(parent NodeID, n Node) NodeID {
	id, err := b.Add(parent, n)
	if err != nil {
		panic(err)
	}
	return id
}

// Len returns the number of nodes added so far.
func (b *Builder) Len() int { return len(b.nodes) }

// Build seals the arena into a Tree. The builder must not be reused.
func (b *Builder) Build() *Tree {
	t := &Tree{
		id:    uuid.New(),
		path:  b.path,
		nodes: b.nodes,
		roots: b.roots,
	}
	t.version.Store(1)
	b.nodes, b.roots = nil, nil
	return t
}

// ID is the tree's identity, unique per Build.
func (t *Tree) ID() uuid.UUID { return t.id }

// Path is the file the tree was produced from.
func (t *Tree) Path() string { return t.path }

// Version changes whenever the tree is mutated through SetProperty.
func (t *Tree) Version() uint64 { return t.version.Load() }

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Roots returns the top-level node ids.
func (t *Tree) Roots() []NodeID { return t.roots }

// Node returns the node stored at id. Callers must treat it as read-only.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id]
}

// SetProperty replaces a property value on a built tree and bumps the tree
// version so cached query results keyed on the old version are no longer
// served. Producers use it for annotations derived after the tree is sealed,
// such as call arity.
func (t *Tree) SetProperty(id NodeID, key string, v Value) {
	n := t.Node(id)
	if n == nil {
		return
	}
	if n.Properties == nil {
		n.Properties = make(map[string]Value)
	}
	n.Properties[key] = v
	t.version.Add(1)
}

// IsAncestor reports whether anc is a strict ancestor of id.
func (t *Tree) IsAncestor(anc, id NodeID) bool {
	n := t.Node(id)
	a := t.Node(anc)
	if n == nil || a == nil || n.depth <= a.depth {
		return false
	}
	for cur := n.parent; cur != NoNode; cur = t.nodes[cur].parent {
		if cur == anc {
			return true
		}
		if t.nodes[cur].depth <= a.depth {
			return false
		}
	}
	return false
}

// PathBetween returns the nodes strictly between anc and id, ordered from anc
// downwards. It returns nil when anc is not an ancestor of id.
func (t *Tree) PathBetween(anc, id NodeID) []NodeID {
	if !t.IsAncestor(anc, id) {
		return nil
	}
	var rev []NodeID
	for cur := t.nodes[id].parent; cur != anc; cur = t.nodes[cur].parent {
		rev = append(rev, cur)
	}
	out := make([]NodeID, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// Walk visits nodes depth first in source order. Returning false from fn skips
// the node's subtree.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		n := &t.nodes[id]
		if !fn(id, n) {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range t.roots {
		visit(r)
	}
}

// Descendants returns every node below id in pre-order.
func (t *Tree) Descendants(id NodeID) []NodeID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	stack := make([]NodeID, 0, len(n.Children))
	for i := len(n.Children) - 1; i >= 0; i-- {
		stack = append(stack, n.Children[i])
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		kids := t.nodes[cur].Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// Nodes flattens the whole tree in pre-order.
func (t *Tree) Nodes() NodeList {
	ids := make([]NodeID, 0, len(t.nodes))
	t.Walk(func(id NodeID, _ *Node) bool {
		ids = append(ids, id)
		return true
	})
	return NodeList{tree: t, ids: ids, key: t.key()}
}

func (t *Tree) key() string {
	return t.id.String() + ":" + strconv.FormatUint(t.Version(), 10)
}

// NodeList is an ordered selection of nodes from one tree. Its Key identifies
// both the tree version and the selection, and is what query caches key on.
type NodeList struct {
	tree *Tree
	ids  []NodeID
	key  string
}

// NewNodeList builds a list over an arbitrary subset of tree nodes.
func NewNodeList(t *Tree, ids []NodeID) NodeList {
	h := fnv.New64a()
	var buf [4]byte
	for _, id := range ids {
		buf[0], buf[1], buf[2], buf[3] = byte(id), byte(id>>8), byte(id>>16), byte(id>>24)
		_, _ = h.Write(buf[:])
	}
	return NodeList{tree: t, ids: ids, key: t.key() + "/" + strconv.FormatUint(h.Sum64(), 16)}
}

// Tree returns the owning tree.
func (l NodeList) Tree() *Tree { return l.tree }

// IDs returns the node ids in list order.
func (l NodeList) IDs() []NodeID { return l.ids }

// Len returns the number of nodes in the list.
func (l NodeList) Len() int { return len(l.ids) }

// Key identifies the list for caching.
func (l NodeList) Key() string { return l.key }

// Node resolves the i-th entry.
func (l NodeList) Node(i int) *Node { return l.tree.Node(l.ids[i]) }
