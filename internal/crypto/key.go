package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrNoKeyComponents is returned when neither a password nor a key file is
// supplied.
var ErrNoKeyComponents = errors.New("no password or key file supplied")

// Credentials is the key material for one vault. A vault may be protected by
// an empty password, so HasPassword is tracked separately from Password.
type Credentials struct {
	Password    []byte
	HasPassword bool
	KeyFile     []byte
}

// PasswordCredentials builds credentials from a password alone.
func PasswordCredentials(password string) Credentials {
	return Credentials{Password: []byte(password), HasPassword: true}
}

// Empty reports whether no key component is present. An empty key file
// still counts as one.
func (c Credentials) Empty() bool {
	return !c.HasPassword && c.KeyFile == nil
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	return Credentials{
		Password:    bytes.Clone(c.Password),
		HasPassword: c.HasPassword,
		KeyFile:     bytes.Clone(c.KeyFile),
	}
}

// Wipe zeroes the password and key file contents.
func (c Credentials) Wipe() {
	Wipe(c.Password, c.KeyFile)
}

// CompositeKey combines the password and key file into the 32-byte composite
// key. The caller owns the result and must wipe it.
func CompositeKey(password []byte, hasPassword bool, keyFile []byte) ([]byte, error) {
	if !hasPassword && keyFile == nil {
		return nil, ErrNoKeyComponents
	}

	h := sha256.New()
	if hasPassword {
		sum := sha256.Sum256(password)
		h.Write(sum[:])
		Wipe(sum[:])
	}
	if keyFile != nil {
		k, err := KeyFileKey(keyFile)
		if err != nil {
			return nil, err
		}
		h.Write(k)
		Wipe(k)
	}
	return h.Sum(nil), nil
}

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Meta    struct {
		Version string `xml:"Version"`
	} `xml:"Meta"`
	Key struct {
		Data struct {
			Hash  string `xml:"Hash,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"Key"`
}

// KeyFileKey extracts the 32-byte key contributed by a key file.
func KeyFileKey(data []byte) ([]byte, error) {
	if key, ok, err := xmlKeyFileKey(data); ok || err != nil {
		return key, err
	}

	switch len(data) {
	case 32:
		return bytes.Clone(data), nil
	case 64:
		if key, err := hex.DecodeString(string(data)); err == nil {
			return key, nil
		}
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// xmlKeyFileKey reports ok=false when data is not a KeePass XML key file.
func xmlKeyFileKey(data []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return nil, false, nil
	}
	var kf xmlKeyFile
	if err := xml.Unmarshal(trimmed, &kf); err != nil {
		return nil, false, nil
	}

	value := strings.Join(strings.Fields(kf.Key.Data.Value), "")
	switch {
	case strings.HasPrefix(kf.Meta.Version, "1."):
		key, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, true, fmt.Errorf("key file data: %w", err)
		}
		return key, true, nil
	case strings.HasPrefix(kf.Meta.Version, "2."):
		key, err := hex.DecodeString(value)
		if err != nil {
			return nil, true, fmt.Errorf("key file data: %w", err)
		}
		if kf.Key.Data.Hash != "" {
			want, err := hex.DecodeString(kf.Key.Data.Hash)
			if err != nil {
				return nil, true, fmt.Errorf("key file hash: %w", err)
			}
			sum := sha256.Sum256(key)
			if len(want) == 0 || len(want) > len(sum) || !bytes.Equal(want, sum[:len(want)]) {
				return nil, true, errors.New("key file hash mismatch")
			}
		}
		return key, true, nil
	default:
		return nil, true, fmt.Errorf("unsupported key file version %q", kf.Meta.Version)
	}
}
