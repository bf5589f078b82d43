package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"

	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

var errBadPadding = errors.New("bad padding")

// payloadCipher decrypts the outer payload. Block ciphers leave the PKCS#7
// padding in place; unpad strips it.
type payloadCipher struct {
	id    kdbx.Cipher
	block cipher.Block
	key   []byte
	iv    []byte
}

func newPayloadCipher(id kdbx.Cipher, key, iv []byte) (*payloadCipher, error) {
	pc := &payloadCipher{id: id, key: key, iv: iv}
	var err error
	switch id {
	case kdbx.CipherAES256:
		pc.block, err = aes.NewCipher(key)
	case kdbx.CipherTwofish:
		pc.block, err = twofish.NewCipher(key)
	case kdbx.CipherChaCha20:
	default:
		return nil, &models.UnsupportedAlgorithmError{Kind: "cipher", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", id, err)
	}
	return pc, nil
}

func (pc *payloadCipher) padded() bool {
	return pc.block != nil
}

// decrypt returns a fresh plaintext buffer the caller must wipe.
func (pc *payloadCipher) decrypt(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	if !pc.padded() {
		s, err := chacha20.NewUnauthenticatedCipher(pc.key, pc.iv)
		if err != nil {
			return nil, fmt.Errorf("init %s: %w", pc.id, err)
		}
		s.XORKeyStream(out, data)
		return out, nil
	}

	size := pc.block.BlockSize()
	if len(data) == 0 || len(data)%size != 0 {
		return nil, &models.TruncatedFileError{
			Section: "encrypted payload",
			Need:    (len(data)/size + 1) * size,
			Have:    len(data),
		}
	}
	cipher.NewCBCDecrypter(pc.block, pc.iv).CryptBlocks(out, data)
	return out, nil
}

// unpad strips PKCS#7 padding when the cipher uses it.
func (pc *payloadCipher) unpad(b []byte) ([]byte, error) {
	if !pc.padded() {
		return b, nil
	}
	size := pc.block.BlockSize()
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
