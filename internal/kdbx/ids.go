package kdbx

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// File signatures.
const (
	Signature1       uint32 = 0x9AA2D903
	SignatureKDBX    uint32 = 0xB54BFB67
	SignatureKDB     uint32 = 0xB54BFB65 // KeePass 1.x
	SignatureKDBXPre uint32 = 0xB54BFB66 // KeePass 2.x pre-release
)

// Supported major versions.
const (
	MajorVersion3 uint16 = 3
	MajorVersion4 uint16 = 4
	MaxMinorV4    uint16 = 1
)

// Cipher identifies the outer payload cipher.
type Cipher int

const (
	CipherAES256 Cipher = iota + 1
	CipherTwofish
	CipherChaCha20
)

var cipherIDs = map[uuid.UUID]Cipher{
	uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff"): CipherAES256,
	uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965e87c"): CipherTwofish,
	uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a"): CipherChaCha20,
}

// UUID returns the on-disk identifier of the cipher.
func (c Cipher) UUID() uuid.UUID {
	for id, v := range cipherIDs {
		if v == c {
			return id
		}
	}
	return uuid.Nil
}

// IVSize returns the encryption IV length the cipher expects.
func (c Cipher) IVSize() int {
	if c == CipherChaCha20 {
		return 12
	}
	return 16
}

func (c Cipher) String() string {
	switch c {
	case CipherAES256:
		return "AES-256"
	case CipherTwofish:
		return "Twofish"
	case CipherChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("cipher(%d)", int(c))
	}
}

// KDFAlgorithm identifies the key-derivation function.
type KDFAlgorithm int

const (
	KDFAES KDFAlgorithm = iota + 1
	KDFArgon2d
	KDFArgon2id
)

var kdfIDs = map[uuid.UUID]KDFAlgorithm{
	uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea"): KDFAES,
	uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c"): KDFArgon2d,
	uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6"): KDFArgon2id,
}

// UUID returns the on-disk identifier of the KDF.
func (k KDFAlgorithm) UUID() uuid.UUID {
	for id, v := range kdfIDs {
		if v == k {
			return id
		}
	}
	return uuid.Nil
}

func (k KDFAlgorithm) String() string {
	switch k {
	case KDFAES:
		return "AES-KDF"
	case KDFArgon2d:
		return "Argon2d"
	case KDFArgon2id:
		return "Argon2id"
	default:
		return fmt.Sprintf("kdf(%d)", int(k))
	}
}

// Compression identifies the payload compression.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	default:
		return fmt.Sprintf("compression(%d)", uint32(c))
	}
}

// InnerStreamID identifies the cipher protecting individual field values.
type InnerStreamID uint32

const (
	InnerStreamNone     InnerStreamID = 0
	InnerStreamArcFour  InnerStreamID = 1
	InnerStreamSalsa20  InnerStreamID = 2
	InnerStreamChaCha20 InnerStreamID = 3
)

func (s InnerStreamID) String() string {
	switch s {
	case InnerStreamNone:
		return "none"
	case InnerStreamArcFour:
		return "ArcFour"
	case InnerStreamSalsa20:
		return "Salsa20"
	case InnerStreamChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("stream(%d)", uint32(s))
	}
}

// ParseInnerStreamID validates a raw inner stream identifier.
func ParseInnerStreamID(v uint32) (InnerStreamID, error) {
	switch id := InnerStreamID(v); id {
	case InnerStreamNone, InnerStreamSalsa20, InnerStreamChaCha20:
		return id, nil
	default:
		return 0, &models.UnsupportedAlgorithmError{Kind: "inner stream", ID: id.String()}
	}
}

func parseCipher(b []byte) (Cipher, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return 0, &models.FormatError{Reason: fmt.Sprintf("cipher id has %d bytes", len(b))}
	}
	c, ok := cipherIDs[id]
	if !ok {
		return 0, &models.UnsupportedAlgorithmError{Kind: "cipher", ID: id.String()}
	}
	return c, nil
}

func parseKDF(b []byte) (KDFAlgorithm, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return 0, &models.FormatError{Reason: fmt.Sprintf("kdf id has %d bytes", len(b))}
	}
	k, ok := kdfIDs[id]
	if !ok {
		return 0, &models.UnsupportedAlgorithmError{Kind: "kdf", ID: id.String()}
	}
	return k, nil
}

func parseCompression(v uint32) (Compression, error) {
	switch c := Compression(v); c {
	case CompressionNone, CompressionGzip:
		return c, nil
	default:
		return 0, &models.UnsupportedAlgorithmError{Kind: "compression", ID: c.String()}
	}
}
