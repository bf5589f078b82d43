// Package history keeps an audit log of comparisons: which containers were
// compared, when, and how many changes of each kind were found. Field
// values are never recorded.
package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Store persists comparison records.
type Store interface {
	// Record saves r, assigning an ID when it has none.
	Record(ctx context.Context, r *Record) error

	// Get loads one record.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrNotFound = errors.New("record not found")
)

// Side describes one compared container.
type Side struct {
	Name    string `json:"name"`
	SHA256  string `json:"sha256"`
	Version string `json:"version"`
}

// Record is one comparison.
type Record struct {
	ID     string         `json:"id"`
	Time   time.Time      `json:"time"`
	Before Side           `json:"before"`
	After  Side           `json:"after"`
	Counts map[string]int `json:"counts"`
}

// Total sums the per-kind counts.
func (r *Record) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// prepare fills the ID and normalizes the timestamp before saving.
func (r *Record) prepare() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	r.Time = r.Time.UTC().Truncate(time.Millisecond)
	if r.Counts == nil {
		r.Counts = map[string]int{}
	}
}

// newestFirst orders records by time, then ID, and applies limit.
func newestFirst(records []Record, limit int) []Record {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.After(records[j].Time)
		}
		return records[i].ID < records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
