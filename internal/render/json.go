package render

import (
	"encoding/json"
	"io"

	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// JSON renders the report as a single JSON document.
type JSON struct {
	opts Options
}

type jsonChange struct {
	Kind        string   `json:"kind"`
	UUID        string   `json:"uuid"`
	Path        []string `json:"path"`
	Name        string   `json:"name"`
	OldName     string   `json:"old_name,omitempty"`
	From        []string `json:"from,omitempty"`
	To          []string `json:"to,omitempty"`
	OldPosition *int     `json:"old_position,omitempty"`
	NewPosition *int     `json:"new_position,omitempty"`
	Field       string   `json:"field,omitempty"`
	Attachment  bool     `json:"attachment,omitempty"`
	Sensitive   bool     `json:"sensitive,omitempty"`
	Before      *string  `json:"before,omitempty"`
	After       *string  `json:"after,omitempty"`
}

type jsonReport struct {
	Before  models.ContainerInfo `json:"before"`
	After   models.ContainerInfo `json:"after"`
	Total   int                  `json:"total"`
	Counts  map[string]int       `json:"counts"`
	Changes []jsonChange         `json:"changes"`
}

// Render implements Renderer.
func (j *JSON) Render(w io.Writer, r Report) error {
	cs := r.Changes
	out := jsonReport{
		Before:  r.Before,
		After:   r.After,
		Total:   cs.Len(),
		Counts:  map[string]int{},
		Changes: make([]jsonChange, 0, cs.Len()),
	}
	for k, n := range cs.Counts() {
		out.Counts[k.String()] = n
	}

	for i := range cs.Changes {
		c := &cs.Changes[i]
		jc := jsonChange{
			Kind:       c.Kind.String(),
			UUID:       c.UUID.String(),
			Path:       c.Path,
			Name:       c.Name,
			OldName:    c.OldName,
			From:       c.From,
			To:         c.To,
			Field:      c.Field,
			Attachment: c.Attachment,
			Sensitive:  c.Sensitive,
		}
		if jc.Path == nil {
			jc.Path = []string{}
		}
		if c.Kind == diff.EntryReordered {
			oldPos, newPos := c.OldPosition, c.NewPosition
			jc.OldPosition, jc.NewPosition = &oldPos, &newPos
		}
		if c.Kind.IsField() {
			if before, after, ok := values(cs, i, j.opts.Reveal); ok {
				switch c.Kind {
				case diff.FieldAdded:
					jc.After = &after
				case diff.FieldRemoved:
					jc.Before = &before
				default:
					jc.Before, jc.After = &before, &after
				}
			}
		}
		out.Changes = append(out.Changes, jc)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
