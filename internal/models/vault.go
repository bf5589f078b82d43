package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Well-known entry field keys.
const (
	FieldTitle    = "Title"
	FieldUserName = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"
)

// StandardFields lists the well-known keys in display order.
var StandardFields = []string{FieldTitle, FieldUserName, FieldPassword, FieldURL, FieldNotes}

// Errors returned while indexing a tree.
var (
	ErrDuplicateUUID = errors.New("duplicate uuid")
	ErrNilUUID       = errors.New("nil uuid")
)

// NodeKind tags the variant held by a Node.
type NodeKind int

const (
	KindGroup NodeKind = iota
	KindEntry
)

func (k NodeKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindEntry:
		return "entry"
	default:
		return "unknown"
	}
}

// Node is a child of a group: exactly one of Group or Entry is set, as
// selected by Kind.
type Node struct {
	Kind  NodeKind
	Group *Group
	Entry *Entry
}

// GroupNode wraps g as a Node.
func GroupNode(g *Group) Node { return Node{Kind: KindGroup, Group: g} }

// EntryNode wraps e as a Node.
func EntryNode(e *Entry) Node { return Node{Kind: KindEntry, Entry: e} }

// UUID returns the identifier of the wrapped group or entry.
func (n Node) UUID() uuid.UUID {
	switch n.Kind {
	case KindGroup:
		return n.Group.UUID
	case KindEntry:
		return n.Entry.UUID
	}
	return uuid.Nil
}

// Label returns the group name or entry title.
func (n Node) Label() string {
	switch n.Kind {
	case KindGroup:
		return n.Group.Name
	case KindEntry:
		return n.Entry.Title()
	}
	return ""
}

// Group is a named container of entries and sub-groups.
type Group struct {
	UUID     uuid.UUID
	Name     string
	Children []Node
}

// AddGroup appends a sub-group.
func (g *Group) AddGroup(child *Group) {
	g.Children = append(g.Children, GroupNode(child))
}

// AddEntry appends an entry.
func (g *Group) AddEntry(e *Entry) {
	g.Children = append(g.Children, EntryNode(e))
}

// Value is a field value. Protected values print masked.
type Value struct {
	Data      []byte
	Protected bool
}

// NewValue builds an unprotected value from a string.
func NewValue(s string) Value { return Value{Data: []byte(s)} }

// NewProtectedValue builds a protected value from a string.
func NewProtectedValue(s string) Value { return Value{Data: []byte(s), Protected: true} }

// String never exposes protected plaintext.
func (v Value) String() string {
	if v.Protected {
		return "********"
	}
	return string(v.Data)
}

// GoString keeps %#v from dumping protected bytes.
func (v Value) GoString() string {
	if v.Protected {
		return "models.Value{Protected: true}"
	}
	return fmt.Sprintf("models.Value{Data: %q}", v.Data)
}

// Equal compares plaintext bytes.
func (v Value) Equal(o Value) bool {
	return string(v.Data) == string(o.Data)
}

// Wipe zeroes the plaintext in place.
func (v Value) Wipe() {
	for i := range v.Data {
		v.Data[i] = 0
	}
}

// Entry is a single credential record.
type Entry struct {
	UUID   uuid.UUID
	Fields map[string]Value

	// Attachments maps attachment name to the hex SHA-256 of its content.
	Attachments map[string]string

	// HistoryLen counts the previous revisions stored with the entry.
	HistoryLen int
}

// NewEntry creates an entry with empty field maps.
func NewEntry(id uuid.UUID) *Entry {
	return &Entry{
		UUID:        id,
		Fields:      make(map[string]Value),
		Attachments: make(map[string]string),
	}
}

// Title returns the Title field, masked if protected.
func (e *Entry) Title() string {
	if v, ok := e.Fields[FieldTitle]; ok {
		return v.String()
	}
	return ""
}

// FieldKeys returns field keys with the standard fields first, then custom
// keys in byte order.
func (e *Entry) FieldKeys() []string {
	return OrderedKeys(e.Fields)
}

// OrderedKeys returns the keys of fields in display order.
func OrderedKeys(fields map[string]Value) []string {
	keys := make([]string, 0, len(fields))
	for _, k := range StandardFields {
		if _, ok := fields[k]; ok {
			keys = append(keys, k)
		}
	}
	custom := make([]string, 0, len(fields))
	for k := range fields {
		if !isStandard(k) {
			custom = append(custom, k)
		}
	}
	sort.Strings(custom)
	return append(keys, custom...)
}

func isStandard(k string) bool {
	for _, s := range StandardFields {
		if s == k {
			return true
		}
	}
	return false
}

// Location places a node inside a tree.
type Location struct {
	Node     Node
	Parent   *Group
	Position int
	Path     []string
}

// ParentUUID returns the parent group id, or uuid.Nil for the root.
func (l Location) ParentUUID() uuid.UUID {
	if l.Parent == nil {
		return uuid.Nil
	}
	return l.Parent.UUID
}

// Tree is an indexed vault hierarchy. It is read-only once built.
type Tree struct {
	Root         *Group
	DatabaseName string
	Generator    string
	RecycleBin   uuid.UUID

	index map[uuid.UUID]Location
	order []uuid.UUID
}

// NewTree indexes root and checks the tree invariants.
func NewTree(root *Group) (*Tree, error) {
	if root == nil {
		return nil, errors.New("nil root group")
	}
	t := &Tree{
		Root:  root,
		index: make(map[uuid.UUID]Location),
	}
	if err := t.add(GroupNode(root), nil, 0, nil); err != nil {
		return nil, err
	}
	return t, nil
}

// add indexes n and its descendants. A group reachable twice (including as
// its own ancestor) trips the duplicate check before recursing again.
func (t *Tree) add(n Node, parent *Group, pos int, path []string) error {
	id := n.UUID()
	if id == uuid.Nil {
		return fmt.Errorf("%w: %s under %v", ErrNilUUID, n.Kind, path)
	}
	if _, dup := t.index[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateUUID, id)
	}
	t.index[id] = Location{Node: n, Parent: parent, Position: pos, Path: path}
	t.order = append(t.order, id)

	if n.Kind != KindGroup {
		return nil
	}
	g := n.Group
	childPath := make([]string, len(path)+1)
	copy(childPath, path)
	childPath[len(path)] = g.Name
	for i, child := range g.Children {
		if err := t.add(child, g, i, childPath); err != nil {
			return err
		}
	}
	return nil
}

// Lookup finds a node by UUID.
func (t *Tree) Lookup(id uuid.UUID) (Location, bool) {
	loc, ok := t.index[id]
	return loc, ok
}

// Walk visits every node in depth-first pre-order, root first.
func (t *Tree) Walk(fn func(Location)) {
	for _, id := range t.order {
		fn(t.index[id])
	}
}

// Len returns the number of indexed nodes, root included.
func (t *Tree) Len() int {
	return len(t.order)
}

// Counts returns the number of groups and entries.
func (t *Tree) Counts() (groups, entries int) {
	for _, id := range t.order {
		if t.index[id].Node.Kind == KindGroup {
			groups++
		} else {
			entries++
		}
	}
	return groups, entries
}

// Wipe zeroes every protected value in the tree.
func (t *Tree) Wipe() {
	t.Walk(func(loc Location) {
		if loc.Node.Kind != KindEntry {
			return
		}
		for _, v := range loc.Node.Entry.Fields {
			if v.Protected {
				v.Wipe()
			}
		}
	})
}
