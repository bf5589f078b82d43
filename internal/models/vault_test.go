package models_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

func id(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func sampleRoot() *models.Group {
	bank := models.NewEntry(id(1))
	bank.Fields[models.FieldTitle] = models.NewValue("Bank")
	bank.Fields[models.FieldPassword] = models.NewProtectedValue("hunter2")

	mail := models.NewEntry(id(2))
	mail.Fields[models.FieldTitle] = models.NewValue("Mail")

	archive := &models.Group{UUID: id(200), Name: "Archive"}
	archive.AddEntry(mail)

	root := &models.Group{UUID: id(100), Name: "Root"}
	root.AddEntry(bank)
	root.AddGroup(archive)
	return root
}

func TestNewTree(t *testing.T) {
	tree, err := models.NewTree(sampleRoot())
	require.NoError(t, err)

	assert.Equal(t, 4, tree.Len())
	groups, entries := tree.Counts()
	assert.Equal(t, 2, groups)
	assert.Equal(t, 2, entries)

	loc, ok := tree.Lookup(id(2))
	require.True(t, ok)
	assert.Equal(t, []string{"Root", "Archive"}, loc.Path)
	assert.Equal(t, id(200), loc.ParentUUID())
	assert.Equal(t, 0, loc.Position)
	assert.Equal(t, "Mail", loc.Node.Label())

	root, ok := tree.Lookup(id(100))
	require.True(t, ok)
	assert.Equal(t, uuid.Nil, root.ParentUUID())
	assert.Empty(t, root.Path)

	_, ok = tree.Lookup(id(999))
	assert.False(t, ok)
}

func TestNewTree_Walk(t *testing.T) {
	tree, err := models.NewTree(sampleRoot())
	require.NoError(t, err)

	var order []uuid.UUID
	tree.Walk(func(loc models.Location) { order = append(order, loc.Node.UUID()) })
	assert.Equal(t, []uuid.UUID{id(100), id(1), id(200), id(2)}, order)
}

func TestNewTree_Invalid(t *testing.T) {
	tests := []struct {
		name string
		root func() *models.Group
		want error
	}{
		{
			name: "duplicate uuid",
			root: func() *models.Group {
				g := sampleRoot()
				g.AddEntry(models.NewEntry(id(1)))
				return g
			},
			want: models.ErrDuplicateUUID,
		},
		{
			name: "nil uuid",
			root: func() *models.Group {
				g := sampleRoot()
				g.AddGroup(&models.Group{Name: "Broken"})
				return g
			},
			want: models.ErrNilUUID,
		},
		{
			name: "cycle",
			root: func() *models.Group {
				g := sampleRoot()
				g.AddGroup(g)
				return g
			},
			want: models.ErrDuplicateUUID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.NewTree(tt.root())
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := models.NewTree(nil)
	assert.Error(t, err)
}

func TestValue(t *testing.T) {
	secret := models.NewProtectedValue("hunter2")
	assert.Equal(t, "********", secret.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", secret, secret, secret), "hunter2")

	plain := models.NewValue("alice")
	assert.Equal(t, "alice", plain.String())
	assert.True(t, plain.Equal(models.NewProtectedValue("alice")))
	assert.False(t, plain.Equal(models.NewValue("bob")))

	secret.Wipe()
	assert.Equal(t, make([]byte, 7), secret.Data)
}

func TestEntry_FieldKeys(t *testing.T) {
	e := models.NewEntry(id(1))
	for _, k := range []string{"zeta", models.FieldURL, "Alpha", models.FieldTitle, models.FieldPassword} {
		e.Fields[k] = models.NewValue(k)
	}
	assert.Equal(t, []string{models.FieldTitle, models.FieldPassword, models.FieldURL, "Alpha", "zeta"}, e.FieldKeys())
}

func TestEntry_Title(t *testing.T) {
	e := models.NewEntry(id(1))
	assert.Equal(t, "", e.Title())

	e.Fields[models.FieldTitle] = models.NewProtectedValue("secret title")
	assert.Equal(t, "********", e.Title())
}

func TestTree_Wipe(t *testing.T) {
	tree, err := models.NewTree(sampleRoot())
	require.NoError(t, err)

	loc, _ := tree.Lookup(id(1))
	password := loc.Node.Entry.Fields[models.FieldPassword].Data
	title := loc.Node.Entry.Fields[models.FieldTitle].Data

	tree.Wipe()
	assert.Equal(t, make([]byte, len(password)), password)
	assert.Equal(t, "Bank", string(title))
}

func TestNodeKind_String(t *testing.T) {
	assert.Equal(t, "group", models.KindGroup.String())
	assert.Equal(t, "entry", models.KindEntry.String())
	assert.Equal(t, "unknown", models.NodeKind(9).String())
}
