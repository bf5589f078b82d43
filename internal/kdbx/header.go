// Package kdbx parses the outer envelope of KeePass 2.x (KDBX) vault files:
// signatures, version, the type-length-value header and, for KDBX 4, the
// header checksum and HMAC that follow it. Parsing never decrypts anything.
package kdbx

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Outer header field identifiers.
const (
	FieldEndOfHeader         byte = 0
	FieldComment             byte = 1
	FieldCipherID            byte = 2
	FieldCompressionFlags    byte = 3
	FieldMasterSeed          byte = 4
	FieldTransformSeed       byte = 5
	FieldTransformRounds     byte = 6
	FieldEncryptionIV        byte = 7
	FieldProtectedStreamKey  byte = 8
	FieldStreamStartBytes    byte = 9
	FieldInnerRandomStreamID byte = 10
	FieldKdfParameters       byte = 11
	FieldPublicCustomData    byte = 12
)

// Sizes of fixed-length header values.
const (
	MasterSeedSize       = 32
	StreamStartBytesSize = 32
	HeaderHashSize       = sha256.Size
	HeaderHMACSize       = sha256.Size
)

// KDF parameter keys inside the KDBX 4 VariantDictionary.
const (
	kdfKeyUUID        = "$UUID"
	kdfKeyRounds      = "R"
	kdfKeySeed        = "S"
	kdfKeyParallelism = "P"
	kdfKeyMemory      = "M"
	kdfKeyIterations  = "I"
	kdfKeyVersion     = "V"
	kdfKeySecret      = "K"
	kdfKeyAssocData   = "A"
)

// KDFParams carries the declared key-derivation parameters.
type KDFParams struct {
	Algorithm KDFAlgorithm

	// Seed is the AES-KDF transform seed or the Argon2 salt.
	Seed []byte

	// Rounds is the AES-KDF round count.
	Rounds uint64

	// Argon2 parameters. Memory is in bytes.
	Iterations  uint64
	Memory      uint64
	Parallelism uint32
	Version     uint32
	Secret      []byte
	AssocData   []byte
}

// Header is the parsed outer header. It is not modified after Parse returns.
type Header struct {
	MajorVersion uint16
	MinorVersion uint16

	Cipher       Cipher
	Compression  Compression
	KDF          KDFParams
	MasterSeed   []byte
	EncryptionIV []byte
	Comment      []byte

	// KDBX 3.x only. KDBX 4 carries the inner stream in the inner header.
	InnerStream        InnerStreamID
	ProtectedStreamKey []byte
	StreamStartBytes   []byte

	// KDBX 4 only.
	PublicCustomData VariantDictionary
	HeaderHMAC       []byte

	// Raw holds the header bytes from the first signature through the
	// end-of-header field.
	Raw []byte
}

// IsV4 reports whether the header uses the KDBX 4 layout.
func (h *Header) IsV4() bool {
	return h.MajorVersion >= MajorVersion4
}

// Version returns "major.minor".
func (h *Header) Version() string {
	return fmt.Sprintf("%d.%d", h.MajorVersion, h.MinorVersion)
}

// Hash returns the SHA-256 of the raw header.
func (h *Header) Hash() []byte {
	sum := sha256.Sum256(h.Raw)
	return sum[:]
}

// Parse reads the outer header from data and returns it together with the
// bytes that follow it (the encrypted payload, or for KDBX 4 the HMAC block
// stream). The returned slices alias data.
func Parse(data []byte) (*Header, []byte, error) {
	r := NewReader(data)

	sig1, err := r.Uint32("signature")
	if err != nil {
		return nil, nil, err
	}
	if sig1 != Signature1 {
		return nil, nil, &models.FormatError{Reason: fmt.Sprintf("bad signature %#08x", sig1)}
	}
	sig2, err := r.Uint32("signature")
	if err != nil {
		return nil, nil, err
	}
	switch sig2 {
	case SignatureKDBX:
	case SignatureKDB:
		return nil, nil, &models.UnsupportedVersionError{Major: 1}
	case SignatureKDBXPre:
		return nil, nil, &models.UnsupportedVersionError{Major: 2}
	default:
		return nil, nil, &models.FormatError{Reason: fmt.Sprintf("bad secondary signature %#08x", sig2)}
	}

	version, err := r.Uint32("version")
	if err != nil {
		return nil, nil, err
	}
	h := &Header{
		MajorVersion: uint16(version >> 16),
		MinorVersion: uint16(version),
	}
	if !supportedVersion(h.MajorVersion, h.MinorVersion) {
		return nil, nil, &models.UnsupportedVersionError{Major: h.MajorVersion, Minor: h.MinorVersion}
	}

	if err := h.readFields(r); err != nil {
		return nil, nil, err
	}
	h.Raw = data[:r.Offset()]

	if err := h.validate(); err != nil {
		return nil, nil, err
	}

	if h.IsV4() {
		sum, err := r.Next(HeaderHashSize, "header checksum")
		if err != nil {
			return nil, nil, err
		}
		mac, err := r.Next(HeaderHMACSize, "header hmac")
		if err != nil {
			return nil, nil, err
		}
		if !bytes.Equal(sum, h.Hash()) {
			return nil, nil, &models.FormatError{Reason: "header checksum mismatch"}
		}
		h.HeaderHMAC = mac
	}

	return h, r.Rest(), nil
}

func supportedVersion(major, minor uint16) bool {
	switch major {
	case MajorVersion3:
		return true
	case MajorVersion4:
		return minor <= MaxMinorV4
	default:
		return false
	}
}

func (h *Header) readFields(r *Reader) error {
	for {
		id, err := r.Byte("header field id")
		if err != nil {
			return err
		}
		var size int
		if h.IsV4() {
			n, err := r.Uint32("header field length")
			if err != nil {
				return err
			}
			size = int(n)
		} else {
			n, err := r.Uint16("header field length")
			if err != nil {
				return err
			}
			size = int(n)
		}
		value, err := r.Next(size, fmt.Sprintf("header field %d", id))
		if err != nil {
			return err
		}
		if id == FieldEndOfHeader {
			return nil
		}
		if err := h.setField(id, value); err != nil {
			return err
		}
	}
}

func (h *Header) setField(id byte, v []byte) error {
	switch id {
	case FieldComment:
		h.Comment = v
	case FieldCipherID:
		c, err := parseCipher(v)
		if err != nil {
			return err
		}
		h.Cipher = c
	case FieldCompressionFlags:
		n, err := fixedUint32(v, "compression flags")
		if err != nil {
			return err
		}
		c, err := parseCompression(n)
		if err != nil {
			return err
		}
		h.Compression = c
	case FieldMasterSeed:
		if len(v) != MasterSeedSize {
			return &models.FormatError{Reason: fmt.Sprintf("master seed has %d bytes", len(v))}
		}
		h.MasterSeed = v
	case FieldEncryptionIV:
		h.EncryptionIV = v
	case FieldKdfParameters:
		if !h.IsV4() {
			return h.unexpected(id)
		}
		return h.setKDFParameters(v)
	case FieldPublicCustomData:
		if !h.IsV4() {
			return h.unexpected(id)
		}
		d, err := ParseVariantDictionary(v)
		if err != nil {
			return err
		}
		h.PublicCustomData = d
	case FieldTransformSeed, FieldTransformRounds, FieldProtectedStreamKey,
		FieldStreamStartBytes, FieldInnerRandomStreamID:
		if h.IsV4() {
			return h.unexpected(id)
		}
		return h.setLegacyField(id, v)
	default:
		return &models.FormatError{Reason: fmt.Sprintf("unknown header field %d", id)}
	}
	return nil
}

func (h *Header) setLegacyField(id byte, v []byte) error {
	h.KDF.Algorithm = KDFAES
	switch id {
	case FieldTransformSeed:
		h.KDF.Seed = v
	case FieldTransformRounds:
		if len(v) != 8 {
			return &models.FormatError{Reason: fmt.Sprintf("transform rounds has %d bytes", len(v))}
		}
		h.KDF.Rounds = binary.LittleEndian.Uint64(v)
	case FieldProtectedStreamKey:
		h.ProtectedStreamKey = v
	case FieldStreamStartBytes:
		if len(v) != StreamStartBytesSize {
			return &models.FormatError{Reason: fmt.Sprintf("stream start bytes has %d bytes", len(v))}
		}
		h.StreamStartBytes = v
	case FieldInnerRandomStreamID:
		n, err := fixedUint32(v, "inner random stream id")
		if err != nil {
			return err
		}
		s, err := ParseInnerStreamID(n)
		if err != nil {
			return err
		}
		h.InnerStream = s
	}
	return nil
}

func (h *Header) setKDFParameters(v []byte) error {
	d, err := ParseVariantDictionary(v)
	if err != nil {
		return err
	}
	rawID, ok := d.Bytes(kdfKeyUUID)
	if !ok {
		return &models.FormatError{Reason: "kdf parameters without $UUID"}
	}
	alg, err := parseKDF(rawID)
	if err != nil {
		return err
	}

	p := KDFParams{Algorithm: alg}
	p.Seed, _ = d.Bytes(kdfKeySeed)
	switch alg {
	case KDFAES:
		p.Rounds, ok = d.Uint64(kdfKeyRounds)
		if !ok {
			return &models.FormatError{Reason: "AES-KDF without rounds"}
		}
	case KDFArgon2d, KDFArgon2id:
		if p.Iterations, ok = d.Uint64(kdfKeyIterations); !ok {
			return &models.FormatError{Reason: "argon2 without iterations"}
		}
		if p.Memory, ok = d.Uint64(kdfKeyMemory); !ok {
			return &models.FormatError{Reason: "argon2 without memory"}
		}
		if p.Parallelism, ok = d.Uint32(kdfKeyParallelism); !ok {
			return &models.FormatError{Reason: "argon2 without parallelism"}
		}
		p.Version, _ = d.Uint32(kdfKeyVersion)
		p.Secret, _ = d.Bytes(kdfKeySecret)
		p.AssocData, _ = d.Bytes(kdfKeyAssocData)
	}
	h.KDF = p
	return nil
}

func (h *Header) unexpected(id byte) error {
	return &models.FormatError{Reason: fmt.Sprintf("header field %d not valid in version %s", id, h.Version())}
}

func (h *Header) validate() error {
	missing := func(name string) error {
		return &models.FormatError{Reason: "missing " + name}
	}
	if h.Cipher == 0 {
		return missing("cipher id")
	}
	if h.MasterSeed == nil {
		return missing("master seed")
	}
	if len(h.EncryptionIV) != h.Cipher.IVSize() {
		return &models.FormatError{Reason: fmt.Sprintf("%s needs a %d byte IV, got %d", h.Cipher, h.Cipher.IVSize(), len(h.EncryptionIV))}
	}
	if h.KDF.Algorithm == 0 {
		return missing("key derivation parameters")
	}
	if len(h.KDF.Seed) == 0 {
		return missing("kdf seed")
	}
	if h.KDF.Algorithm == KDFAES && len(h.KDF.Seed) != 32 {
		return &models.FormatError{Reason: fmt.Sprintf("AES-KDF seed has %d bytes", len(h.KDF.Seed))}
	}
	if !h.IsV4() {
		if h.StreamStartBytes == nil {
			return missing("stream start bytes")
		}
		if h.InnerStream != InnerStreamNone && len(h.ProtectedStreamKey) == 0 {
			return missing("protected stream key")
		}
	}
	return nil
}

func fixedUint32(v []byte, name string) (uint32, error) {
	if len(v) != 4 {
		return 0, &models.FormatError{Reason: fmt.Sprintf("%s has %d bytes", name, len(v))}
	}
	return binary.LittleEndian.Uint32(v), nil
}
