package crypto

import "github.com/TheMichaelB/kdbxdiff/internal/kdbx"

// Provider defines the key derivation and decryption operations the
// comparison pipeline depends on.
type Provider interface {
	// CompositeKey combines the password and key file.
	CompositeKey(creds Credentials) ([]byte, error)

	// DeriveKey runs the KDF declared by the header.
	DeriveKey(params kdbx.KDFParams, composite []byte) ([]byte, error)

	// Open authenticates and decrypts a container payload.
	Open(h *kdbx.Header, payload []byte, creds Credentials) ([]byte, error)
}

// KeePassProvider implements Provider for KDBX 3.x and 4.x.
type KeePassProvider struct{}

// NewProvider creates a crypto provider.
func NewProvider() Provider {
	return &KeePassProvider{}
}

// CompositeKey implements Provider.
func (p *KeePassProvider) CompositeKey(creds Credentials) ([]byte, error) {
	return CompositeKey(creds.Password, creds.HasPassword, creds.KeyFile)
}

// DeriveKey implements Provider.
func (p *KeePassProvider) DeriveKey(params kdbx.KDFParams, composite []byte) ([]byte, error) {
	return DeriveKey(params, composite)
}

// Open implements Provider.
func (p *KeePassProvider) Open(h *kdbx.Header, payload []byte, creds Credentials) ([]byte, error) {
	return Open(h, payload, creds)
}
