package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"

	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

var salsaNonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// InnerStream is the keystream cursor that hides protected field values.
// Values must be unprotected in document order, each exactly once.
type InnerStream struct {
	id kdbx.InnerStreamID

	// Salsa20 state.
	key     [32]byte
	counter [16]byte
	block   [salsa20BlockSize]byte
	used    int

	chacha *chacha20.Cipher
}

const salsa20BlockSize = 64

// NewInnerStream keys a stream of the given kind. The key is not retained.
func NewInnerStream(id kdbx.InnerStreamID, key []byte) (*InnerStream, error) {
	s := &InnerStream{id: id}
	switch id {
	case kdbx.InnerStreamNone:
	case kdbx.InnerStreamSalsa20:
		s.key = sha256.Sum256(key)
		copy(s.counter[:8], salsaNonce[:])
		s.used = salsa20BlockSize
	case kdbx.InnerStreamChaCha20:
		h := sha512.Sum512(key)
		defer Wipe(h[:])
		c, err := chacha20.NewUnauthenticatedCipher(h[:32], h[32:44])
		if err != nil {
			return nil, err
		}
		s.chacha = c
	default:
		return nil, &models.UnsupportedAlgorithmError{Kind: "inner stream", ID: id.String()}
	}
	return s, nil
}

// ID returns the stream kind.
func (s *InnerStream) ID() kdbx.InnerStreamID { return s.id }

// Unprotect XORs b with the next len(b) keystream bytes in place.
func (s *InnerStream) Unprotect(b []byte) {
	switch s.id {
	case kdbx.InnerStreamSalsa20:
		s.salsaXOR(b)
	case kdbx.InnerStreamChaCha20:
		s.chacha.XORKeyStream(b, b)
	}
}

func (s *InnerStream) salsaXOR(b []byte) {
	for i := range b {
		if s.used == salsa20BlockSize {
			s.nextBlock()
		}
		b[i] ^= s.block[s.used]
		s.used++
	}
}

func (s *InnerStream) nextBlock() {
	var zero [salsa20BlockSize]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	n := binary.LittleEndian.Uint64(s.counter[8:])
	binary.LittleEndian.PutUint64(s.counter[8:], n+1)
	s.used = 0
}

// Close wipes the key state.
func (s *InnerStream) Close() {
	Wipe(s.key[:], s.counter[:], s.block[:])
	s.used = salsa20BlockSize
	if s.chacha != nil {
		*s.chacha = chacha20.Cipher{}
		s.chacha = nil
	}
}
