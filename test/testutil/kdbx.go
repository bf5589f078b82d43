package testutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
)

// Field is an entry string in a fixture vault.
type Field struct {
	Key       string
	Value     string
	Protected bool
}

// Attachment is a binary attached to an entry.
type Attachment struct {
	Name string
	Data []byte
}

// Entry describes an entry to write.
type Entry struct {
	UUID        uuid.UUID
	Fields      []Field
	Attachments []Attachment
	History     []Entry
}

// Group describes a group to write. Entries are written before sub-groups,
// the way KeePass lays them out.
type Group struct {
	UUID    uuid.UUID
	Name    string
	Entries []Entry
	Groups  []Group
}

// Vault is the plaintext content of a fixture file.
type Vault struct {
	Name       string
	Root       Group
	RecycleBin uuid.UUID

	// MetaProtected are protected values stored in Meta custom data. The
	// decoder does not model them but must still consume their keystream.
	MetaProtected []Field
}

// Options selects the container layout of a fixture.
type Options struct {
	MajorVersion uint16
	MinorVersion uint16
	Cipher       kdbx.Cipher
	KDF          kdbx.KDFAlgorithm
	InnerStream  kdbx.InnerStreamID
	Compress     bool

	Password   string
	NoPassword bool
	KeyFile    []byte

	AESRounds uint64

	// BlockSize bounds the payload block size. Small values force
	// multi-block streams.
	BlockSize int

	// OmitHeaderHash leaves Meta/HeaderHash out of 3.1 files.
	OmitHeaderHash bool
}

// Credentials returns the key material matching o.
func (o Options) Credentials() crypto.Credentials {
	c := crypto.Credentials{KeyFile: o.KeyFile}
	if !o.NoPassword {
		c.Password = []byte(o.Password)
		c.HasPassword = true
	}
	return c
}

// V4Options returns a fast KDBX 4.1 layout.
func V4Options(password string) Options {
	return Options{
		MajorVersion: kdbx.MajorVersion4,
		MinorVersion: 1,
		Cipher:       kdbx.CipherAES256,
		KDF:          kdbx.KDFAES,
		InnerStream:  kdbx.InnerStreamChaCha20,
		Compress:     true,
		Password:     password,
		AESRounds:    16,
		BlockSize:    1 << 20,
	}
}

// V3Options returns a fast KDBX 3.1 layout.
func V3Options(password string) Options {
	return Options{
		MajorVersion: kdbx.MajorVersion3,
		MinorVersion: 1,
		Cipher:       kdbx.CipherAES256,
		KDF:          kdbx.KDFAES,
		InnerStream:  kdbx.InnerStreamSalsa20,
		Compress:     true,
		Password:     password,
		AESRounds:    16,
		BlockSize:    1 << 20,
	}
}

// WriteVault serializes v into an encrypted KDBX container.
func WriteVault(v *Vault, o Options) ([]byte, error) {
	if o.BlockSize <= 0 {
		o.BlockSize = 1 << 20
	}
	w := &writer{opts: o, vault: v}
	if err := w.keys(); err != nil {
		return nil, err
	}
	if o.MajorVersion >= kdbx.MajorVersion4 {
		return w.writeV4()
	}
	return w.writeV3()
}

// MustWriteVault is WriteVault for tests.
func MustWriteVault(t TestingT, v *Vault, o Options) []byte {
	data, err := WriteVault(v, o)
	if err != nil {
		t.Errorf("write fixture vault: %v", err)
		t.FailNow()
	}
	return data
}

type writer struct {
	opts  Options
	vault *Vault

	masterSeed  []byte
	iv          []byte
	streamKey   []byte
	startBytes  []byte
	kdf         kdbx.KDFParams
	transformed []byte

	binaries  [][]byte
	binaryRef map[string]int
}

func (w *writer) keys() error {
	w.masterSeed = randomBytes(32)
	w.iv = randomBytes(w.opts.Cipher.IVSize())
	w.streamKey = randomBytes(64)
	w.startBytes = randomBytes(32)
	if w.opts.MajorVersion < kdbx.MajorVersion4 {
		w.streamKey = randomBytes(32)
	}

	w.kdf = kdbx.KDFParams{Algorithm: w.opts.KDF, Seed: randomBytes(32), Rounds: w.opts.AESRounds}
	if w.opts.KDF == kdbx.KDFArgon2d || w.opts.KDF == kdbx.KDFArgon2id {
		w.kdf.Iterations = 1
		w.kdf.Memory = 64 * 1024
		w.kdf.Parallelism = 1
		w.kdf.Version = 0x13
	}

	c := w.opts.Credentials()
	composite, err := crypto.CompositeKey(c.Password, c.HasPassword, c.KeyFile)
	if err != nil {
		return err
	}
	w.transformed, err = crypto.DeriveKey(w.kdf, composite)
	return err
}

func (w *writer) writeV3() ([]byte, error) {
	header := w.header()
	header = appendField16(header, kdbx.FieldEndOfHeader, []byte("\r\n\r\n"))

	content, err := w.content(header)
	if err != nil {
		return nil, err
	}

	var blocks []byte
	idx := uint32(0)
	for off := 0; off < len(content); off += w.opts.BlockSize {
		end := min(off+w.opts.BlockSize, len(content))
		chunk := content[off:end]
		sum := sha256.Sum256(chunk)
		blocks = binary.LittleEndian.AppendUint32(blocks, idx)
		blocks = append(blocks, sum[:]...)
		blocks = binary.LittleEndian.AppendUint32(blocks, uint32(len(chunk)))
		blocks = append(blocks, chunk...)
		idx++
	}
	blocks = binary.LittleEndian.AppendUint32(blocks, idx)
	blocks = append(blocks, make([]byte, 32)...)
	blocks = binary.LittleEndian.AppendUint32(blocks, 0)

	plain := append(append([]byte{}, w.startBytes...), blocks...)
	sealed, err := w.encrypt(plain)
	if err != nil {
		return nil, err
	}
	return append(header, sealed...), nil
}

func (w *writer) writeV4() ([]byte, error) {
	header := w.header()
	header = appendField32(header, kdbx.FieldEndOfHeader, []byte("\r\n\r\n"))

	hmacKey := sum512(w.masterSeed, w.transformed, []byte{0x01})
	headerSum := sha256.Sum256(header)

	content, err := w.content(header)
	if err != nil {
		return nil, err
	}
	sealed, err := w.encrypt(content)
	if err != nil {
		return nil, err
	}

	out := append([]byte{}, header...)
	out = append(out, headerSum[:]...)
	out = append(out, mac(blockKey(hmacKey, math.MaxUint64), header)...)

	idx := uint64(0)
	for off := 0; off < len(sealed); off += w.opts.BlockSize {
		end := min(off+w.opts.BlockSize, len(sealed))
		out = appendHMACBlock(out, hmacKey, idx, sealed[off:end])
		idx++
	}
	return appendHMACBlock(out, hmacKey, idx, nil), nil
}

func appendHMACBlock(out, hmacKey []byte, idx uint64, data []byte) []byte {
	size := binary.LittleEndian.AppendUint32(nil, uint32(len(data)))
	msg := binary.LittleEndian.AppendUint64(nil, idx)
	msg = append(msg, size...)
	msg = append(msg, data...)
	out = append(out, mac(blockKey(hmacKey, idx), msg)...)
	out = append(out, size...)
	return append(out, data...)
}

func (w *writer) header() []byte {
	v4 := w.opts.MajorVersion >= kdbx.MajorVersion4
	field := appendField16
	if v4 {
		field = appendField32
	}

	h := binary.LittleEndian.AppendUint32(nil, kdbx.Signature1)
	h = binary.LittleEndian.AppendUint32(h, kdbx.SignatureKDBX)
	h = binary.LittleEndian.AppendUint32(h, uint32(w.opts.MajorVersion)<<16|uint32(w.opts.MinorVersion))

	cipherID := w.opts.Cipher.UUID()
	h = field(h, kdbx.FieldCipherID, cipherID[:])
	compression := uint32(kdbx.CompressionNone)
	if w.opts.Compress {
		compression = uint32(kdbx.CompressionGzip)
	}
	h = field(h, kdbx.FieldCompressionFlags, binary.LittleEndian.AppendUint32(nil, compression))
	h = field(h, kdbx.FieldMasterSeed, w.masterSeed)
	h = field(h, kdbx.FieldEncryptionIV, w.iv)

	if v4 {
		kdfID := w.kdf.Algorithm.UUID()
		d := kdbx.VariantDictionary{
			"$UUID": kdbx.BytesVariant(kdfID[:]),
			"S":     kdbx.BytesVariant(w.kdf.Seed),
		}
		if w.kdf.Algorithm == kdbx.KDFAES {
			d["R"] = kdbx.Uint64Variant(w.kdf.Rounds)
		} else {
			d["I"] = kdbx.Uint64Variant(w.kdf.Iterations)
			d["M"] = kdbx.Uint64Variant(w.kdf.Memory)
			d["P"] = kdbx.Uint32Variant(w.kdf.Parallelism)
			d["V"] = kdbx.Uint32Variant(w.kdf.Version)
		}
		return field(h, kdbx.FieldKdfParameters, d.Marshal())
	}

	h = field(h, kdbx.FieldTransformSeed, w.kdf.Seed)
	h = field(h, kdbx.FieldTransformRounds, binary.LittleEndian.AppendUint64(nil, w.kdf.Rounds))
	h = field(h, kdbx.FieldProtectedStreamKey, w.streamKey)
	h = field(h, kdbx.FieldStreamStartBytes, w.startBytes)
	return field(h, kdbx.FieldInnerRandomStreamID, binary.LittleEndian.AppendUint32(nil, uint32(w.opts.InnerStream)))
}

// content builds the (compressed) inner content: inner header for KDBX 4,
// then the XML document.
func (w *writer) content(header []byte) ([]byte, error) {
	w.collectBinaries(&w.vault.Root)

	stream, err := crypto.NewInnerStream(w.opts.InnerStream, w.streamKey)
	if err != nil {
		return nil, err
	}
	doc := w.document(header, stream)

	var inner []byte
	if w.opts.MajorVersion >= kdbx.MajorVersion4 {
		inner = appendInner(inner, 1, binary.LittleEndian.AppendUint32(nil, uint32(w.opts.InnerStream)))
		inner = appendInner(inner, 2, w.streamKey)
		for _, b := range w.binaries {
			inner = appendInner(inner, 3, append([]byte{0}, b...))
		}
		inner = appendInner(inner, 0, nil)
	}
	inner = append(inner, doc...)

	if !w.opts.Compress {
		return inner, nil
	}
	return gzipBytes(inner)
}

func (w *writer) collectBinaries(g *Group) {
	if w.binaryRef == nil {
		w.binaryRef = make(map[string]int)
	}
	var visit func(e *Entry)
	visit = func(e *Entry) {
		for _, a := range e.Attachments {
			key := string(a.Data)
			if _, ok := w.binaryRef[key]; !ok {
				w.binaryRef[key] = len(w.binaries)
				w.binaries = append(w.binaries, a.Data)
			}
		}
		for i := range e.History {
			visit(&e.History[i])
		}
	}
	for i := range g.Entries {
		visit(&g.Entries[i])
	}
	for i := range g.Groups {
		w.collectBinaries(&g.Groups[i])
	}
}

func (w *writer) document(header []byte, stream *crypto.InnerStream) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n")
	b.WriteString("<KeePassFile>\n<Meta>\n")
	b.WriteString("<Generator>kdbxdiff-testutil</Generator>\n")
	if w.opts.MajorVersion < kdbx.MajorVersion4 && w.opts.MinorVersion >= 1 && !w.opts.OmitHeaderHash {
		sum := sha256.Sum256(header)
		fmt.Fprintf(&b, "<HeaderHash>%s</HeaderHash>\n", base64.StdEncoding.EncodeToString(sum[:]))
	}
	fmt.Fprintf(&b, "<DatabaseName>%s</DatabaseName>\n", escape(w.vault.Name))
	if w.vault.RecycleBin != uuid.Nil {
		b.WriteString("<RecycleBinEnabled>True</RecycleBinEnabled>\n")
		fmt.Fprintf(&b, "<RecycleBinUUID>%s</RecycleBinUUID>\n", encodeUUID(w.vault.RecycleBin))
	}
	if len(w.vault.MetaProtected) > 0 {
		b.WriteString("<CustomData>\n")
		for _, f := range w.vault.MetaProtected {
			fmt.Fprintf(&b, "<Item><Key>%s</Key>%s</Item>\n", escape(f.Key), valueElement(f, stream))
		}
		b.WriteString("</CustomData>\n")
	}
	if w.opts.MajorVersion < kdbx.MajorVersion4 && len(w.binaries) > 0 {
		b.WriteString("<Binaries>\n")
		for i, data := range w.binaries {
			fmt.Fprintf(&b, `<Binary ID="%d" Compressed="False">%s</Binary>`+"\n", i, base64.StdEncoding.EncodeToString(data))
		}
		b.WriteString("</Binaries>\n")
	}
	b.WriteString("</Meta>\n<Root>\n")
	w.writeGroup(&b, &w.vault.Root, stream)
	b.WriteString("<DeletedObjects/>\n</Root>\n</KeePassFile>\n")
	return []byte(b.String())
}

func (w *writer) writeGroup(b *strings.Builder, g *Group, stream *crypto.InnerStream) {
	b.WriteString("<Group>\n")
	fmt.Fprintf(b, "<UUID>%s</UUID>\n<Name>%s</Name>\n", encodeUUID(g.UUID), escape(g.Name))
	for i := range g.Entries {
		w.writeEntry(b, &g.Entries[i], stream)
	}
	for i := range g.Groups {
		w.writeGroup(b, &g.Groups[i], stream)
	}
	b.WriteString("</Group>\n")
}

func (w *writer) writeEntry(b *strings.Builder, e *Entry, stream *crypto.InnerStream) {
	b.WriteString("<Entry>\n")
	fmt.Fprintf(b, "<UUID>%s</UUID>\n", encodeUUID(e.UUID))
	for _, f := range e.Fields {
		fmt.Fprintf(b, "<String><Key>%s</Key>%s</String>\n", escape(f.Key), valueElement(f, stream))
	}
	for _, a := range e.Attachments {
		fmt.Fprintf(b, `<Binary><Key>%s</Key><Value Ref="%d"/></Binary>`+"\n", escape(a.Name), w.binaryRef[string(a.Data)])
	}
	if len(e.History) > 0 {
		b.WriteString("<History>\n")
		for i := range e.History {
			w.writeEntry(b, &e.History[i], stream)
		}
		b.WriteString("</History>\n")
	}
	b.WriteString("</Entry>\n")
}

func valueElement(f Field, stream *crypto.InnerStream) string {
	if !f.Protected {
		return "<Value>" + escape(f.Value) + "</Value>"
	}
	data := []byte(f.Value)
	stream.Unprotect(data)
	return `<Value Protected="True">` + base64.StdEncoding.EncodeToString(data) + "</Value>"
}

func (w *writer) encrypt(plain []byte) ([]byte, error) {
	key := sum256(w.masterSeed, w.transformed)
	var block cipher.Block
	var err error
	switch w.opts.Cipher {
	case kdbx.CipherChaCha20:
		s, err := chacha20.NewUnauthenticatedCipher(key, w.iv)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(plain))
		s.XORKeyStream(out, plain)
		return out, nil
	case kdbx.CipherTwofish:
		block, err = twofish.NewCipher(key)
	default:
		block, err = aes.NewCipher(key)
	}
	if err != nil {
		return nil, err
	}
	pad := block.BlockSize() - len(plain)%block.BlockSize()
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, w.iv).CryptBlocks(out, padded)
	return out, nil
}

func appendField16(h []byte, id byte, v []byte) []byte {
	h = append(h, id)
	h = binary.LittleEndian.AppendUint16(h, uint16(len(v)))
	return append(h, v...)
}

func appendField32(h []byte, id byte, v []byte) []byte {
	h = append(h, id)
	h = binary.LittleEndian.AppendUint32(h, uint32(len(v)))
	return append(h, v...)
}

func appendInner(b []byte, id byte, v []byte) []byte {
	return appendField32(b, id, v)
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blockKey(hmacKey []byte, idx uint64) []byte {
	return sum512(binary.LittleEndian.AppendUint64(nil, idx), hmacKey)
}

func mac(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}

func sum256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func sum512(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func encodeUUID(id uuid.UUID) string {
	return base64.StdEncoding.EncodeToString(id[:])
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
