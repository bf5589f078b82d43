package compare

import (
	"time"

	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/internal/render"
)

// Result is the outcome of a comparison. Call Wipe when done with it.
type Result struct {
	Before  models.ContainerInfo
	After   models.ContainerInfo
	Changes *diff.ChangeSet
	Elapsed time.Duration
}

// Report returns the renderable view of the result.
func (r *Result) Report() render.Report {
	return render.Report{Before: r.Before, After: r.After, Changes: r.Changes}
}

// Record returns a history record holding names, digests and per-kind
// counts. No field values are copied.
func (r *Result) Record() *history.Record {
	counts := make(map[string]int)
	for k, n := range r.Changes.Counts() {
		counts[k.String()] = n
	}
	return &history.Record{
		Before: history.Side{Name: r.Before.Name, SHA256: r.Before.SHA256, Version: r.Before.Version},
		After:  history.Side{Name: r.After.Name, SHA256: r.After.SHA256, Version: r.After.Version},
		Counts: counts,
	}
}

// Wipe zeroes any sensitive values held by the change set.
func (r *Result) Wipe() {
	if r != nil && r.Changes != nil {
		r.Changes.Wipe()
	}
}
