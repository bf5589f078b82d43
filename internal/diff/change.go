package diff

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
)

// Kind classifies a change.
type Kind int

const (
	GroupAdded Kind = iota
	GroupRemoved
	GroupRenamed
	GroupMoved
	EntryAdded
	EntryRemoved
	EntryMoved
	EntryReordered
	FieldAdded
	FieldRemoved
	FieldModified
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	GroupAdded, GroupRemoved, GroupRenamed, GroupMoved,
	EntryAdded, EntryRemoved, EntryMoved, EntryReordered,
	FieldAdded, FieldRemoved, FieldModified,
}

var kindNames = map[Kind]string{
	GroupAdded:     "GroupAdded",
	GroupRemoved:   "GroupRemoved",
	GroupRenamed:   "GroupRenamed",
	GroupMoved:     "GroupMoved",
	EntryAdded:     "EntryAdded",
	EntryRemoved:   "EntryRemoved",
	EntryMoved:     "EntryMoved",
	EntryReordered: "EntryReordered",
	FieldAdded:     "FieldAdded",
	FieldRemoved:   "FieldRemoved",
	FieldModified:  "FieldModified",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// IsGroup reports whether the change is about a group.
func (k Kind) IsGroup() bool { return k <= GroupMoved }

// IsField reports whether the change is about a single entry field.
func (k Kind) IsField() bool { return k >= FieldAdded }

// ErrRevealDenied is returned when values are requested without a granted
// RevealIntent, or when the comparison did not retain them.
var ErrRevealDenied = errors.New("sensitive values not revealed")

// RevealIntent is the capability that unlocks sensitive values. Its zero
// value grants nothing.
type RevealIntent struct {
	granted bool
}

// NewRevealIntent returns a granted intent. Callers create one only when
// the user explicitly asked to see sensitive values.
func NewRevealIntent() RevealIntent {
	return RevealIntent{granted: true}
}

// Granted reports whether the intent unlocks values.
func (r RevealIntent) Granted() bool { return r.granted }

// Change is a single difference between two trees.
type Change struct {
	Kind Kind
	UUID uuid.UUID

	// Path is the chain of group names above the node, root first. It is
	// taken from the after tree, or from the before tree for removals.
	Path []string

	// Name is the group name or entry title. OldName is set for renames.
	Name    string
	OldName string

	// From and To are the parent group paths of a moved node.
	From []string
	To   []string

	// OldPosition and NewPosition are child indexes of a reordered entry.
	OldPosition int
	NewPosition int

	// Field is the field key, or the attachment name when Attachment is set.
	Field      string
	Attachment bool
	Sensitive  bool

	oldVal, newVal []byte
	retained       bool
}

// FullPath returns Path followed by Name.
func (c *Change) FullPath() []string {
	out := make([]string, 0, len(c.Path)+1)
	out = append(out, c.Path...)
	return append(out, c.Name)
}

// PathString joins FullPath with " / ".
func (c *Change) PathString() string {
	return strings.Join(c.FullPath(), " / ")
}

// FromGroup returns the name of the group a node moved out of.
func (c *Change) FromGroup() string { return last(c.From) }

// ToGroup returns the name of the group a node moved into.
func (c *Change) ToGroup() string { return last(c.To) }

func last(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// Values returns the old and new values of a non-sensitive field change.
func (c *Change) Values() (before, after string, ok bool) {
	if !c.Kind.IsField() || c.Sensitive || !c.retained {
		return "", "", false
	}
	return string(c.oldVal), string(c.newVal), true
}

// Reveal returns the old and new values of any field change, sensitive or
// not, when intent is granted and the values were retained.
func (c *Change) Reveal(intent RevealIntent) (before, after string, err error) {
	if !intent.Granted() || !c.Kind.IsField() || !c.retained {
		return "", "", ErrRevealDenied
	}
	return string(c.oldVal), string(c.newVal), nil
}

func (c *Change) wipe() {
	crypto.Wipe(c.oldVal, c.newVal)
	c.oldVal, c.newVal = nil, nil
	c.retained = false
}

// ChangeSet is the ordered result of a comparison.
type ChangeSet struct {
	Changes []Change
}

// Empty reports whether the trees are equivalent.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// Len returns the number of changes.
func (cs *ChangeSet) Len() int {
	return len(cs.Changes)
}

// Counts tallies changes per kind. Kinds without changes are absent.
func (cs *ChangeSet) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, c := range cs.Changes {
		counts[c.Kind]++
	}
	return counts
}

// Filter returns the changes of the given kinds in order.
func (cs *ChangeSet) Filter(kinds ...Kind) []Change {
	var out []Change
	for _, c := range cs.Changes {
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Reveal is Change.Reveal for the i-th change.
func (cs *ChangeSet) Reveal(i int, intent RevealIntent) (before, after string, err error) {
	if i < 0 || i >= len(cs.Changes) {
		return "", "", ErrRevealDenied
	}
	return cs.Changes[i].Reveal(intent)
}

// Wipe zeroes every retained value.
func (cs *ChangeSet) Wipe() {
	for i := range cs.Changes {
		cs.Changes[i].wipe()
	}
}
