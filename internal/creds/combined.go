package creds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Combined is a credentials document mapping vault file names to their key
// material. It may live in a local file or in an AWS Secrets Manager secret:
//
//	{
//	  "default": {"keyfile": "/keys/shared.key"},
//	  "files": {
//	    "old.kdbx": {"password": "pw", "keyfile": "/keys/old.key"},
//	    "new.kdbx": "pw2"
//	  }
//	}
//
// A file entry may be an object or a bare password string.
type Combined struct {
	Default *Entry           `json:"default,omitempty"`
	Files   map[string]Entry `json:"files"`
}

// Entry is the key material for one file. A nil Password means none; an
// empty string is an empty password.
type Entry struct {
	Password *string `json:"password,omitempty"`
	KeyFile  string  `json:"keyfile,omitempty"`
}

// UnmarshalJSON accepts both the object and the bare string form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var pw string
		if err := json.Unmarshal(trimmed, &pw); err != nil {
			return err
		}
		e.Password = &pw
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// SecretsAPI is the Secrets Manager call used to fetch a combined secret.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if c.Files == nil {
		c.Files = map[string]Entry{}
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(b)
	return ParseCombined(b)
}

// LoadFromSecret loads Combined from Secrets Manager by name or ARN.
func LoadFromSecret(ctx context.Context, sm SecretsAPI, secretID string) (*Combined, error) {
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	switch {
	case out.SecretString != nil:
		return ParseCombined([]byte(*out.SecretString))
	case out.SecretBinary != nil:
		defer wipeBytes(out.SecretBinary)
		return ParseCombined(out.SecretBinary)
	default:
		return nil, errors.New("secret has no payload")
	}
}

// Lookup finds the entry for a vault reference: the exact reference first,
// then its base name, then the default entry.
func (c *Combined) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	if e, ok := c.Files[name]; ok {
		return e, true
	}
	if e, ok := c.Files[filepath.Base(name)]; ok {
		return e, true
	}
	if c.Default != nil {
		return *c.Default, true
	}
	return Entry{}, false
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
