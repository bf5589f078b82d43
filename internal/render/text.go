package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/TheMichaelB/kdbxdiff/internal/diff"
)

const digestLen = 12

// Text renders a change list grouped under tree-path headers.
type Text struct {
	opts Options
}

type palette struct {
	header, add, remove, modify, move *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header: color.New(color.Bold),
		add:    color.New(color.FgGreen),
		remove: color.New(color.FgRed),
		modify: color.New(color.FgYellow),
		move:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.header, p.add, p.remove, p.modify, p.move} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Render implements Renderer.
func (t *Text) Render(w io.Writer, r Report) error {
	pal := newPalette(t.opts.Color)
	cs := r.Changes

	var (
		sb      strings.Builder
		current string
		started bool
	)
	for i := range cs.Changes {
		c := &cs.Changes[i]
		if c.Kind == diff.EntryReordered && !t.opts.Verbose {
			continue
		}

		// Field changes sit under their entry, everything else under its parent group.
		header := joinPath(c.Path)
		if c.Kind.IsField() {
			header = c.PathString()
		}
		if !started || header != current {
			if started {
				sb.WriteString("\n")
			}
			sb.WriteString(pal.header.Sprint(header) + "\n")
			current, started = header, true
		}

		sb.WriteString("  " + t.line(pal, cs, i) + "\n")
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(summary(cs) + "\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func (t *Text) line(pal palette, cs *diff.ChangeSet, i int) string {
	c := &cs.Changes[i]
	noun := "Entry"
	if c.Kind.IsGroup() {
		noun = "Group"
	}

	switch c.Kind {
	case diff.GroupAdded, diff.EntryAdded:
		return pal.add.Sprintf("+ %s %q", noun, c.Name)
	case diff.GroupRemoved, diff.EntryRemoved:
		return pal.remove.Sprintf("- %s %q", noun, c.Name)
	case diff.GroupRenamed:
		return pal.modify.Sprintf("~ Group %q renamed to %q", c.OldName, c.Name)
	case diff.GroupMoved, diff.EntryMoved:
		return pal.move.Sprintf("> %s %q moved from %s to %s", noun, c.Name, joinPath(c.From), joinPath(c.To))
	case diff.EntryReordered:
		return pal.move.Sprintf("^ Entry %q position %d -> %d", c.Name, c.OldPosition, c.NewPosition)
	}

	what := "field " + c.Field
	if c.Attachment {
		what = "attachment " + c.Field
	}
	before, after, ok := values(cs, i, t.opts.Reveal)
	switch c.Kind {
	case diff.FieldAdded:
		return pal.add.Sprintf("+ %s%s", what, t.value(c, after, ok))
	case diff.FieldRemoved:
		return pal.remove.Sprintf("- %s%s", what, t.value(c, before, ok))
	default:
		if !ok {
			return pal.modify.Sprintf("~ %s changed: %s -> %s", what, Mask, Mask)
		}
		return pal.modify.Sprintf("~ %s: %s -> %s", what, t.quote(c, before), t.quote(c, after))
	}
}

func (t *Text) value(c *diff.Change, v string, ok bool) string {
	if !ok {
		return ": " + Mask
	}
	return ": " + t.quote(c, v)
}

func (t *Text) quote(c *diff.Change, v string) string {
	if c.Attachment {
		if len(v) > digestLen {
			v = v[:digestLen]
		}
		return "sha256:" + v
	}
	return fmt.Sprintf("%q", v)
}

func joinPath(p []string) string {
	if len(p) == 0 {
		return "/"
	}
	return strings.Join(p, " / ")
}

func summary(cs *diff.ChangeSet) string {
	if cs.Empty() {
		return "No differences."
	}
	counts := cs.Counts()
	parts := make([]string, 0, len(counts))
	for _, k := range diff.Kinds {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	noun := "changes"
	if cs.Len() == 1 {
		noun = "change"
	}
	return fmt.Sprintf("%d %s: %s", cs.Len(), noun, strings.Join(parts, ", "))
}
