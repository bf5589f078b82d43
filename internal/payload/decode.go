// Package payload turns the decrypted inner content of a KDBX container into
// a vault tree.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Inner header field identifiers (KDBX 4).
const (
	innerEnd       byte = 0
	innerStreamID  byte = 1
	innerStreamKey byte = 2
	innerBinary    byte = 3
)

// Options tunes decoding.
type Options struct {
	// SkipRecycleBin drops the KeePass recycle bin group and its contents.
	SkipRecycleBin bool
}

// innerHeader is the decoded KDBX 4 inner header.
type innerHeader struct {
	stream    kdbx.InnerStreamID
	streamKey []byte
	binaries  [][]byte
}

// Decode decompresses content when the header says so, reads the inner
// header (KDBX 4), parses the XML document, unprotects protected values and
// builds the tree. content is not modified; the caller still owns it.
func Decode(h *kdbx.Header, content []byte, opts Options) (*models.Tree, error) {
	data := content
	if h.Compression == kdbx.CompressionGzip {
		plain, err := gunzip(content)
		if err != nil {
			return nil, &models.MalformedPayloadError{Reason: "decompress payload", Err: err}
		}
		defer crypto.Wipe(plain)
		data = plain
	}

	inner := innerHeader{stream: h.InnerStream, streamKey: h.ProtectedStreamKey}
	if h.IsV4() {
		var (
			rest []byte
			err  error
		)
		inner, rest, err = readInnerHeader(data)
		if err != nil {
			return nil, err
		}
		data = rest
	}

	root, queue, err := parseDocument(data)
	defer func() {
		crypto.Wipe(queue...)
	}()
	if err != nil {
		return nil, err
	}

	if err := unprotect(inner, queue); err != nil {
		return nil, err
	}

	b := &builder{header: h, inner: inner, opts: opts}
	return b.build(root)
}

// unprotect runs the inner stream over every queued value in order.
func unprotect(inner innerHeader, queue [][]byte) error {
	if len(queue) > 0 && inner.stream != kdbx.InnerStreamNone && len(inner.streamKey) == 0 {
		return &models.MalformedPayloadError{Reason: "protected values without a stream key"}
	}
	stream, err := crypto.NewInnerStream(inner.stream, inner.streamKey)
	if err != nil {
		return err
	}
	defer stream.Close()
	for _, v := range queue {
		stream.Unprotect(v)
	}
	return nil
}

func readInnerHeader(data []byte) (innerHeader, []byte, error) {
	var ih innerHeader
	r := kdbx.NewReader(data)
	for {
		id, err := r.Byte("inner header field id")
		if err != nil {
			return ih, nil, err
		}
		size, err := r.Int32Len("inner header field length")
		if err != nil {
			return ih, nil, err
		}
		value, err := r.Next(size, fmt.Sprintf("inner header field %d", id))
		if err != nil {
			return ih, nil, err
		}

		switch id {
		case innerEnd:
			return ih, r.Rest(), nil
		case innerStreamID:
			if len(value) != 4 {
				return ih, nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("inner stream id has %d bytes", len(value))}
			}
			ih.stream, err = kdbx.ParseInnerStreamID(binary.LittleEndian.Uint32(value))
			if err != nil {
				return ih, nil, err
			}
		case innerStreamKey:
			ih.streamKey = value
		case innerBinary:
			if len(value) == 0 {
				return ih, nil, &models.MalformedPayloadError{Reason: "binary without flags"}
			}
			ih.binaries = append(ih.binaries, value[1:])
		default:
			return ih, nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("unknown inner header field %d", id)}
		}
	}
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		crypto.Wipe(out)
		return nil, err
	}
	return out, nil
}

// builder converts the element tree into a models.Tree.
type builder struct {
	header *kdbx.Header
	inner  innerHeader
	opts   Options

	metaBinaries map[string][]byte
	recycleBin   uuid.UUID
}

func (b *builder) build(doc *element) (*models.Tree, error) {
	if doc.name != "KeePassFile" {
		return nil, &models.MalformedPayloadError{Reason: "document element is " + doc.name}
	}

	meta := doc.child("Meta")
	if meta != nil {
		if err := b.readMeta(meta); err != nil {
			return nil, err
		}
	}

	rootEl := doc.child("Root")
	if rootEl == nil {
		return nil, &models.MalformedPayloadError{Reason: "missing Root"}
	}
	groupEl := rootEl.child("Group")
	if groupEl == nil {
		return nil, &models.MalformedPayloadError{Reason: "missing root group"}
	}

	root, err := b.group(groupEl)
	if err != nil {
		return nil, err
	}
	tree, err := models.NewTree(root)
	if err != nil {
		return nil, &models.MalformedPayloadError{Reason: "invalid tree", Err: err}
	}
	if meta != nil {
		tree.DatabaseName = meta.childText("DatabaseName")
		tree.Generator = meta.childText("Generator")
	}
	tree.RecycleBin = b.recycleBin
	return tree, nil
}

func (b *builder) readMeta(meta *element) error {
	if raw := meta.childText("HeaderHash"); raw != "" {
		want, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return &models.MalformedPayloadError{Reason: "header hash is not base64", Err: err}
		}
		if !bytes.Equal(want, b.header.Hash()) {
			return &models.MalformedPayloadError{Reason: "header hash mismatch"}
		}
	}

	if isTrue(meta.childText("RecycleBinEnabled")) {
		if raw := meta.childText("RecycleBinUUID"); raw != "" {
			id, err := parseUUID(raw)
			if err != nil {
				return err
			}
			b.recycleBin = id
		}
	}

	binaries := meta.child("Binaries")
	if binaries == nil {
		return nil
	}
	b.metaBinaries = make(map[string][]byte)
	return binaries.each("Binary", func(el *element) error {
		data := el.text
		if !el.protected {
			decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(el.text)))
			if err != nil {
				return &models.MalformedPayloadError{Reason: "binary is not base64", Err: err}
			}
			data = decoded
		}
		if isTrue(el.attrs["Compressed"]) {
			plain, err := gunzip(data)
			if err != nil {
				return &models.MalformedPayloadError{Reason: "decompress binary", Err: err}
			}
			data = plain
		}
		b.metaBinaries[el.attrs["ID"]] = data
		return nil
	})
}

func (b *builder) group(el *element) (*models.Group, error) {
	id, err := parseUUID(el.childText("UUID"))
	if err != nil {
		return nil, err
	}
	g := &models.Group{UUID: id, Name: el.childText("Name")}

	for _, c := range el.children {
		switch c.name {
		case "Group":
			child, err := b.group(c)
			if err != nil {
				return nil, err
			}
			if b.opts.SkipRecycleBin && b.recycleBin != uuid.Nil && child.UUID == b.recycleBin {
				continue
			}
			g.AddGroup(child)
		case "Entry":
			e, err := b.entry(c)
			if err != nil {
				return nil, err
			}
			g.AddEntry(e)
		}
	}
	return g, nil
}

func (b *builder) entry(el *element) (*models.Entry, error) {
	id, err := parseUUID(el.childText("UUID"))
	if err != nil {
		return nil, err
	}
	e := models.NewEntry(id)

	err = el.each("String", func(s *element) error {
		key := s.childText("Key")
		if key == "" {
			return &models.MalformedPayloadError{Reason: fmt.Sprintf("entry %s has a string without a key", id)}
		}
		v := models.Value{}
		if val := s.child("Value"); val != nil {
			v.Data = bytes.Clone(val.text)
			v.Protected = val.protected
		}
		if v.Data == nil {
			v.Data = []byte{}
		}
		e.Fields[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = el.each("Binary", func(bin *element) error {
		name := bin.childText("Key")
		data, err := b.binary(bin.child("Value"))
		if err != nil {
			return fmt.Errorf("entry %s attachment %q: %w", id, name, err)
		}
		sum := sha256.Sum256(data)
		e.Attachments[name] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, err
	}

	if history := el.child("History"); history != nil {
		_ = history.each("Entry", func(*element) error {
			e.HistoryLen++
			return nil
		})
	}
	return e, nil
}

// binary resolves an attachment reference to its content.
func (b *builder) binary(val *element) ([]byte, error) {
	if val == nil {
		return nil, &models.MalformedPayloadError{Reason: "attachment without value"}
	}
	ref, ok := val.attrs["Ref"]
	if !ok {
		if val.protected {
			return val.text, nil
		}
		data, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(val.text)))
		if err != nil {
			return nil, &models.MalformedPayloadError{Reason: "inline attachment is not base64", Err: err}
		}
		return data, nil
	}

	if b.header.IsV4() {
		idx, err := strconv.Atoi(ref)
		if err != nil || idx < 0 || idx >= len(b.inner.binaries) {
			return nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("unknown binary reference %q", ref)}
		}
		return b.inner.binaries[idx], nil
	}
	data, ok := b.metaBinaries[ref]
	if !ok {
		return nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("unknown binary reference %q", ref)}
	}
	return data, nil
}

var errBadUUID = errors.New("invalid uuid")

func parseUUID(raw string) (uuid.UUID, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return uuid.Nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("uuid %q", raw), Err: errBadUUID}
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil, &models.MalformedPayloadError{Reason: fmt.Sprintf("uuid %q", raw), Err: errBadUUID}
	}
	return id, nil
}
