package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Open derives the keys for h from creds, authenticates and decrypts the
// payload that follows the header. The result is the inner content (still
// compressed if the header says so) and must be wiped by the caller.
func Open(h *kdbx.Header, payload []byte, creds Credentials) ([]byte, error) {
	composite, err := CompositeKey(creds.Password, creds.HasPassword, creds.KeyFile)
	if err != nil {
		return nil, err
	}
	defer Wipe(composite)

	transformed, err := DeriveKey(h.KDF, composite)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer Wipe(transformed)

	return OpenWithKey(h, payload, transformed)
}

// OpenWithKey is Open with an already transformed key.
func OpenWithKey(h *kdbx.Header, payload, transformed []byte) ([]byte, error) {
	cipherKey := SecureCopy(sum256(h.MasterSeed, transformed))
	defer cipherKey.Destroy()

	pc, err := newPayloadCipher(h.Cipher, cipherKey.Bytes(), h.EncryptionIV)
	if err != nil {
		return nil, err
	}
	if h.IsV4() {
		hmacKey := SecureCopy(sum512(h.MasterSeed, transformed, []byte{0x01}))
		defer hmacKey.Destroy()
		return openV4(h, payload, pc, hmacKey.Bytes())
	}
	return openV3(h, payload, pc)
}

func openV3(h *kdbx.Header, payload []byte, pc *payloadCipher) ([]byte, error) {
	plain, err := pc.decrypt(payload)
	if err != nil {
		return nil, err
	}
	defer Wipe(plain)

	if len(plain) < len(h.StreamStartBytes) {
		return nil, &models.TruncatedFileError{Section: "stream start bytes", Need: len(h.StreamStartBytes), Have: len(plain)}
	}
	if subtle.ConstantTimeCompare(plain[:len(h.StreamStartBytes)], h.StreamStartBytes) != 1 {
		return nil, &models.WrongCredentialsError{Check: "stream start bytes"}
	}
	// The key is proven by now, so bad padding means a damaged payload.
	content, err := pc.unpad(plain)
	if err != nil {
		if errors.Is(err, errBadPadding) {
			return nil, &models.MalformedPayloadError{Reason: "payload padding", Err: err}
		}
		return nil, err
	}
	return readHashedBlocks(content[len(h.StreamStartBytes):])
}

func openV4(h *kdbx.Header, payload []byte, pc *payloadCipher, hmacKey []byte) ([]byte, error) {
	if !hmac.Equal(h.HeaderHMAC, headerMAC(hmacKey, h.Raw)) {
		return nil, &models.WrongCredentialsError{Check: "header hmac"}
	}
	sealed, err := readHMACBlocks(payload, hmacKey)
	if err != nil {
		return nil, err
	}
	plain, err := pc.decrypt(sealed)
	if err != nil {
		return nil, err
	}
	content, err := pc.unpad(plain)
	if err != nil {
		Wipe(plain)
		if errors.Is(err, errBadPadding) {
			return nil, &models.MalformedPayloadError{Reason: "payload padding", Err: err}
		}
		return nil, err
	}
	return content, nil
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
