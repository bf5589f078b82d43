// Package creds resolves the key material used to open each vault from
// command-line flags, a combined credentials document and interactive
// prompts.
package creds

import (
	"bytes"
	"fmt"
	"os"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Flags mirrors the credential options of the diff command. Nil passwords
// were not given.
type Flags struct {
	PasswordA *string
	PasswordB *string
	Passwords *string

	SamePassword bool

	NoPasswordA bool
	NoPasswordB bool
	NoPasswords bool

	KeyFileA string
	KeyFileB string
	KeyFiles string
}

// PromptFunc reads a password interactively. An empty answer means the vault
// has no password.
type PromptFunc func(label string) ([]byte, error)

// Resolver turns flags, an optional combined document and an optional
// prompt into credentials for both vaults.
type Resolver struct {
	Flags    Flags
	Combined *Combined

	// Prompt is nil when no terminal is available.
	Prompt PromptFunc

	// ReadFile reads key files. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Pair holds the credentials for both sides of a comparison.
type Pair struct {
	A crypto.Credentials
	B crypto.Credentials
}

// Wipe zeroes both sides.
func (p Pair) Wipe() {
	p.A.Wipe()
	p.B.Wipe()
}

// Resolve builds credentials for nameA and nameB. Password precedence per
// side: the side's own flag, the shared flag, a shared prompt (B reuses A),
// the no-password flags, the combined document, then a prompt. Key file
// precedence: the side's flag, the shared flag, the combined document.
func (r *Resolver) Resolve(nameA, nameB string) (Pair, error) {
	var p Pair

	pwA, hasA, err := r.password(nameA, r.Flags.PasswordA, r.Flags.NoPasswordA, nil)
	if err != nil {
		return Pair{}, err
	}
	p.A = crypto.Credentials{Password: pwA, HasPassword: hasA}

	pwB, hasB, err := r.password(nameB, r.Flags.PasswordB, r.Flags.NoPasswordB, &p.A)
	if err != nil {
		p.Wipe()
		return Pair{}, err
	}
	p.B = crypto.Credentials{Password: pwB, HasPassword: hasB}

	if p.A.KeyFile, err = r.keyFile(nameA, r.Flags.KeyFileA); err != nil {
		p.Wipe()
		return Pair{}, err
	}
	if p.B.KeyFile, err = r.keyFile(nameB, r.Flags.KeyFileB); err != nil {
		p.Wipe()
		return Pair{}, err
	}

	for _, side := range []struct {
		name  string
		creds crypto.Credentials
	}{{nameA, p.A}, {nameB, p.B}} {
		if side.creds.Empty() {
			p.Wipe()
			return Pair{}, &models.FileError{Name: side.name, Err: models.ErrNoCredentials}
		}
	}
	return p, nil
}

// password resolves one side. first is side A's result when resolving side
// B, and nil for side A itself.
func (r *Resolver) password(name string, own *string, noOwn bool, first *crypto.Credentials) ([]byte, bool, error) {
	f := r.Flags

	switch {
	case own != nil:
		return []byte(*own), true, nil
	case f.Passwords != nil:
		return []byte(*f.Passwords), true, nil
	case f.SamePassword && first != nil:
		return bytes.Clone(first.Password), first.HasPassword, nil
	case f.SamePassword:
		return r.prompt("Password for both files: ")
	case noOwn, f.NoPasswords:
		return nil, false, nil
	}

	if e, ok := r.Combined.Lookup(name); ok {
		if e.Password == nil {
			return nil, false, nil
		}
		return []byte(*e.Password), true, nil
	}
	return r.prompt(fmt.Sprintf("Password for file %s: ", name))
}

func (r *Resolver) prompt(label string) ([]byte, bool, error) {
	if r.Prompt == nil {
		return nil, false, nil
	}
	pw, err := r.Prompt(label)
	if err != nil {
		return nil, false, fmt.Errorf("read password: %w", err)
	}
	if len(pw) == 0 {
		return nil, false, nil
	}
	return pw, true, nil
}

func (r *Resolver) keyFile(name, own string) ([]byte, error) {
	path := own
	if path == "" {
		path = r.Flags.KeyFiles
	}
	if path == "" {
		if e, ok := r.Combined.Lookup(name); ok {
			path = e.KeyFile
		}
	}
	if path == "" {
		return nil, nil
	}

	read := r.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("read key file for %s: %w", name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
