// Package render writes a ChangeSet for people (colored text) or machines
// (JSON). Sensitive values are masked unless the caller holds a granted
// RevealIntent.
package render

import (
	"io"

	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Mask stands in for a sensitive value.
const Mask = "****"

// Report is what gets rendered.
type Report struct {
	Before  models.ContainerInfo
	After   models.ContainerInfo
	Changes *diff.ChangeSet
}

// Options tunes rendering.
type Options struct {
	Color   bool
	Verbose bool
	Reveal  diff.RevealIntent
}

// Renderer writes a report.
type Renderer interface {
	Render(w io.Writer, r Report) error
}

// New returns the JSON renderer when asJSON is set, the text renderer
// otherwise.
func New(asJSON bool, opts Options) Renderer {
	if asJSON {
		return &JSON{opts: opts}
	}
	return &Text{opts: opts}
}

// values returns the displayable before/after values of change i.
func values(cs *diff.ChangeSet, i int, reveal diff.RevealIntent) (before, after string, ok bool) {
	c := &cs.Changes[i]
	if !c.Sensitive {
		return c.Values()
	}
	before, after, err := cs.Reveal(i, reveal)
	if err != nil {
		return Mask, Mask, false
	}
	return before, after, true
}
