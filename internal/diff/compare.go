// Package diff compares two vault trees and reports their differences as an
// ordered ChangeSet.
package diff

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Options tunes a comparison.
type Options struct {
	// Reveal retains sensitive values in the change set so they can be
	// read back through Change.Reveal.
	Reveal RevealIntent

	// IgnoreFields are field keys excluded from field comparison.
	IgnoreFields []string
}

type position struct {
	before int
	after  int
}

type comparer struct {
	before, after *models.Tree
	opts          Options
	ignore        map[string]bool
	reordered     map[uuid.UUID]position
	changes       []Change
}

// Compare reports how after differs from before. It never fails and does not
// modify either tree.
func Compare(before, after *models.Tree, opts Options) *ChangeSet {
	c := &comparer{
		before:    before,
		after:     after,
		opts:      opts,
		ignore:    make(map[string]bool, len(opts.IgnoreFields)),
		reordered: make(map[uuid.UUID]position),
	}
	for _, f := range opts.IgnoreFields {
		c.ignore[f] = true
	}
	c.findReorders()

	after.Walk(c.visitAfter)
	before.Walk(c.visitBefore)

	return &ChangeSet{Changes: c.changes}
}

// visitAfter reports additions, renames, moves, reorders and field changes.
func (c *comparer) visitAfter(loc models.Location) {
	id := loc.Node.UUID()
	prev, ok := c.before.Lookup(id)
	if !ok || prev.Node.Kind != loc.Node.Kind {
		c.emit(loc, added(loc.Node.Kind))
		return
	}

	switch loc.Node.Kind {
	case models.KindGroup:
		if prev.Node.Group.Name != loc.Node.Group.Name {
			ch := c.change(loc, GroupRenamed)
			ch.OldName = prev.Node.Group.Name
			c.changes = append(c.changes, ch)
		}
		if prev.ParentUUID() != loc.ParentUUID() {
			c.moved(prev, loc, GroupMoved)
		}
	case models.KindEntry:
		if prev.ParentUUID() != loc.ParentUUID() {
			c.moved(prev, loc, EntryMoved)
		} else if pos, ok := c.reordered[id]; ok {
			ch := c.change(loc, EntryReordered)
			ch.OldPosition, ch.NewPosition = pos.before, pos.after
			c.changes = append(c.changes, ch)
		}
		c.compareEntries(loc, prev.Node.Entry, loc.Node.Entry)
	}
}

// visitBefore reports removals.
func (c *comparer) visitBefore(loc models.Location) {
	next, ok := c.after.Lookup(loc.Node.UUID())
	if ok && next.Node.Kind == loc.Node.Kind {
		return
	}
	c.emit(loc, removed(loc.Node.Kind))
}

func (c *comparer) emit(loc models.Location, kind Kind) {
	c.changes = append(c.changes, c.change(loc, kind))
}

func (c *comparer) change(loc models.Location, kind Kind) Change {
	return Change{
		Kind: kind,
		UUID: loc.Node.UUID(),
		Path: loc.Path,
		Name: loc.Node.Label(),
	}
}

func (c *comparer) moved(prev, loc models.Location, kind Kind) {
	ch := c.change(loc, kind)
	ch.From = prev.Path
	ch.To = loc.Path
	c.changes = append(c.changes, ch)
}

func added(k models.NodeKind) Kind {
	if k == models.KindGroup {
		return GroupAdded
	}
	return EntryAdded
}

func removed(k models.NodeKind) Kind {
	if k == models.KindGroup {
		return GroupRemoved
	}
	return EntryRemoved
}

func (c *comparer) compareEntries(loc models.Location, before, after *models.Entry) {
	keys := models.OrderedKeys(unionFields(before.Fields, after.Fields))
	for _, key := range keys {
		if c.ignore[key] {
			continue
		}
		bv, inBefore := before.Fields[key]
		av, inAfter := after.Fields[key]

		var kind Kind
		switch {
		case inBefore && !inAfter:
			kind = FieldRemoved
		case !inBefore && inAfter:
			kind = FieldAdded
		case !bv.Equal(av), bv.Protected != av.Protected:
			kind = FieldModified
		default:
			continue
		}

		ch := c.change(loc, kind)
		ch.Field = key
		ch.Sensitive = (inBefore && bv.Protected) || (inAfter && av.Protected)
		c.retain(&ch, bv.Data, av.Data)
		c.changes = append(c.changes, ch)
	}

	for _, name := range attachmentNames(before.Attachments, after.Attachments) {
		bd, inBefore := before.Attachments[name]
		ad, inAfter := after.Attachments[name]

		var kind Kind
		switch {
		case inBefore && !inAfter:
			kind = FieldRemoved
		case !inBefore && inAfter:
			kind = FieldAdded
		case bd != ad:
			kind = FieldModified
		default:
			continue
		}

		ch := c.change(loc, kind)
		ch.Field = name
		ch.Attachment = true
		c.retain(&ch, []byte(bd), []byte(ad))
		c.changes = append(c.changes, ch)
	}
}

// retain copies the values into the change. Sensitive values are kept only
// under a granted reveal intent.
func (c *comparer) retain(ch *Change, before, after []byte) {
	if ch.Sensitive && !c.opts.Reveal.Granted() {
		return
	}
	ch.oldVal = bytes.Clone(before)
	ch.newVal = bytes.Clone(after)
	ch.retained = true
}

func unionFields(a, b map[string]models.Value) map[string]models.Value {
	out := make(map[string]models.Value, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func attachmentNames(a, b map[string]string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var names []string
	for _, m := range []map[string]string{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// findReorders marks entries whose order changed relative to the entries
// that stayed under the same parent. An entry is stable only when it lies on
// every longest increasing subsequence of old positions, which makes the
// marked set the same whichever tree comes first.
func (c *comparer) findReorders() {
	c.after.Walk(func(loc models.Location) {
		if loc.Node.Kind != models.KindGroup {
			return
		}
		prev, ok := c.before.Lookup(loc.Node.UUID())
		if !ok || prev.Node.Kind != models.KindGroup {
			return
		}

		var (
			ids  []uuid.UUID
			seq  []int
			locs []position
		)
		for i, child := range loc.Node.Group.Children {
			if child.Kind != models.KindEntry {
				continue
			}
			old, ok := c.before.Lookup(child.UUID())
			if !ok || old.Node.Kind != models.KindEntry || old.ParentUUID() != loc.Node.UUID() {
				continue
			}
			ids = append(ids, child.UUID())
			seq = append(seq, old.Position)
			locs = append(locs, position{before: old.Position, after: i})
		}

		stable := onEveryLongestIncreasing(seq)
		for i, id := range ids {
			if !stable[i] {
				c.reordered[id] = locs[i]
			}
		}
	})
}

// onEveryLongestIncreasing marks the members of seq that belong to every
// longest strictly increasing subsequence.
func onEveryLongestIncreasing(seq []int) []bool {
	n := len(seq)
	stable := make([]bool, n)
	if n == 0 {
		return stable
	}

	// ending[i] and starting[i] are the lengths of the longest increasing
	// runs that end and start at i.
	ending := make([]int, n)
	starting := make([]int, n)
	longest := 0
	for i := 0; i < n; i++ {
		ending[i] = 1
		for j := 0; j < i; j++ {
			if seq[j] < seq[i] && ending[j]+1 > ending[i] {
				ending[i] = ending[j] + 1
			}
		}
		if ending[i] > longest {
			longest = ending[i]
		}
	}
	for i := n - 1; i >= 0; i-- {
		starting[i] = 1
		for j := i + 1; j < n; j++ {
			if seq[j] > seq[i] && starting[j]+1 > starting[i] {
				starting[i] = starting[j] + 1
			}
		}
	}

	// An element on some longest run is on all of them when no other such
	// element shares its rank within the run.
	byRank := make(map[int]int, longest)
	for i := 0; i < n; i++ {
		if ending[i]+starting[i]-1 == longest {
			byRank[ending[i]]++
		}
	}
	for i := 0; i < n; i++ {
		if ending[i]+starting[i]-1 == longest && byRank[ending[i]] == 1 {
			stable[i] = true
		}
	}
	return stable
}
