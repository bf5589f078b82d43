package crypto

import (
	"crypto/aes"
	"crypto/sha256"
	"fmt"
	"math"

	argon2d "github.com/tobischo/argon2"
	"golang.org/x/crypto/argon2"

	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

const (
	// KeySize is the length of composite and transformed keys.
	KeySize = 32

	argon2Version13 = 0x13

	// Refuse Argon2 memory costs above 4 GiB.
	maxArgon2MemoryKiB = 4 << 20
)

// DeriveKey transforms the composite key with the declared KDF. The result
// is KeySize bytes and owned by the caller.
func DeriveKey(params kdbx.KDFParams, composite []byte) ([]byte, error) {
	if len(composite) != KeySize {
		return nil, fmt.Errorf("composite key has %d bytes", len(composite))
	}
	switch params.Algorithm {
	case kdbx.KDFAES:
		return aesKDF(params.Seed, params.Rounds, composite)
	case kdbx.KDFArgon2d, kdbx.KDFArgon2id:
		return argon2KDF(params, composite)
	default:
		return nil, &models.UnsupportedAlgorithmError{Kind: "kdf", ID: params.Algorithm.String()}
	}
}

func aesKDF(seed []byte, rounds uint64, composite []byte) ([]byte, error) {
	block, err := aes.NewCipher(seed)
	if err != nil {
		return nil, &models.FormatError{Reason: fmt.Sprintf("AES-KDF seed: %v", err)}
	}

	buf := NewSecureBuffer(KeySize)
	defer buf.Destroy()
	state := buf.Bytes()
	copy(state, composite)

	for i := uint64(0); i < rounds; i++ {
		block.Encrypt(state[:16], state[:16])
		block.Encrypt(state[16:], state[16:])
	}
	sum := sha256.Sum256(state)
	return sum[:], nil
}

func argon2KDF(p kdbx.KDFParams, composite []byte) ([]byte, error) {
	alg := p.Algorithm.String()
	if p.Version != 0 && p.Version != argon2Version13 {
		return nil, &models.UnsupportedAlgorithmError{Kind: "kdf", ID: fmt.Sprintf("%s version %#x", alg, p.Version)}
	}
	if len(p.Secret) > 0 || len(p.AssocData) > 0 {
		return nil, &models.UnsupportedAlgorithmError{Kind: "kdf", ID: alg + " with secret or associated data"}
	}
	if p.Iterations == 0 || p.Iterations > math.MaxUint32 {
		return nil, &models.FormatError{Reason: fmt.Sprintf("%s iterations %d", alg, p.Iterations)}
	}
	if p.Parallelism == 0 || p.Parallelism > math.MaxUint8 {
		return nil, &models.FormatError{Reason: fmt.Sprintf("%s parallelism %d", alg, p.Parallelism)}
	}
	memory := p.Memory / 1024
	if memory < 8*uint64(p.Parallelism) || memory > maxArgon2MemoryKiB {
		return nil, &models.FormatError{Reason: fmt.Sprintf("%s memory %d KiB", alg, memory)}
	}

	time, mem, threads := uint32(p.Iterations), uint32(memory), uint8(p.Parallelism)
	if p.Algorithm == kdbx.KDFArgon2d {
		return argon2d.DKey(composite, p.Seed, time, mem, threads, KeySize), nil
	}
	return argon2.IDKey(composite, p.Seed, time, mem, threads, KeySize), nil
}
