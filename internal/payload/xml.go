package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// element is one node of the document. Protected values hold their decoded
// bytes in text and share that slice with the protected queue.
type element struct {
	name      string
	attrs     map[string]string
	text      []byte
	protected bool
	children  []*element
}

func (e *element) child(name string) *element {
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (e *element) childText(name string) string {
	if c := e.child(name); c != nil {
		return strings.TrimSpace(string(c.text))
	}
	return ""
}

func (e *element) each(name string, fn func(*element) error) error {
	for _, c := range e.children {
		if c.name == name {
			if err := fn(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "true")
}

// parseDocument tokenizes the XML document and returns its root element
// together with every protected value in document order. Values inside
// elements that are never modeled are queued too, so the keystream offsets
// line up with what the writer produced.
func parseDocument(doc []byte) (*element, [][]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		stack []*element
		root  *element
		queue [][]byte
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, queue, &models.MalformedPayloadError{Reason: "invalid xml", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local}
			if len(t.Attr) > 0 {
				el.attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					el.attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, queue, &models.MalformedPayloadError{Reason: "multiple document elements"}
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)

		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.text = append(top.text, t...)
			}

		case xml.EndElement:
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(el.children) > 0 {
				el.text = nil
				continue
			}
			if isTrue(el.attrs["Protected"]) {
				raw := strings.TrimSpace(string(el.text))
				decoded, err := base64.StdEncoding.DecodeString(raw)
				if err != nil {
					return nil, queue, &models.MalformedPayloadError{Reason: "protected value is not base64", Err: err}
				}
				el.text = decoded
				el.protected = true
				queue = append(queue, decoded)
			} else if isTrue(el.attrs["ProtectInMemory"]) {
				el.protected = true
			}
		}
	}
	if root == nil {
		return nil, queue, &models.MalformedPayloadError{Reason: "empty document"}
	}
	if len(stack) != 0 {
		return nil, queue, &models.MalformedPayloadError{Reason: "unterminated element " + stack[len(stack)-1].name}
	}
	return root, queue, nil
}
