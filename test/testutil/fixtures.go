package testutil

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

// Well-known node IDs of the base fixture.
var (
	RootID    = ID(100)
	ArchiveID = ID(200)
	BankID    = ID(1)
	MailID    = ID(2)
)

// ID returns a readable fixture UUID ending in n.
func ID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

// NewTestLogger creates a debug JSON logger writing into a LogOutput.
func NewTestLogger() (*events.Logger, *LogOutput) {
	out := NewLogOutput()
	return events.NewTestLogger(events.DebugLevel, "json", out), out
}

// BankEntry is entry 1 of the base fixture.
func BankEntry(password string) Entry {
	return Entry{
		UUID: BankID,
		Fields: []Field{
			{Key: "Title", Value: "Bank"},
			{Key: "UserName", Value: "alice"},
			{Key: "Password", Value: password, Protected: true},
			{Key: "URL", Value: "https://bank.example"},
		},
	}
}

// MailEntry is the entry added in the second fixture scenario.
func MailEntry() Entry {
	return Entry{
		UUID: MailID,
		Fields: []Field{
			{Key: "Title", Value: "Mail"},
			{Key: "UserName", Value: "alice@example.com"},
			{Key: "Password", Value: "m41l", Protected: true},
		},
	}
}

// BaseVault is a root group "Root" holding the Bank entry and an empty
// "Archive" group.
func BaseVault() *Vault {
	return &Vault{
		Name: "Fixture",
		Root: Group{
			UUID:    RootID,
			Name:    "Root",
			Entries: []Entry{BankEntry("hunter2")},
			Groups:  []Group{{UUID: ArchiveID, Name: "Archive"}},
		},
	}
}

// WithEntry returns BaseVault plus e under Root.
func WithEntry(e Entry) *Vault {
	v := BaseVault()
	v.Root.Entries = append(v.Root.Entries, e)
	return v
}

// WithPassword returns BaseVault with the Bank password replaced.
func WithPassword(password string) *Vault {
	v := BaseVault()
	v.Root.Entries[0] = BankEntry(password)
	return v
}

// WithBankArchived returns BaseVault with the Bank entry moved into Archive.
func WithBankArchived() *Vault {
	v := BaseVault()
	bank := v.Root.Entries[0]
	v.Root.Entries = nil
	v.Root.Groups[0].Entries = []Entry{bank}
	return v
}
