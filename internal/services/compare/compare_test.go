package compare_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/internal/services/compare"
	"github.com/TheMichaelB/kdbxdiff/test/testutil"
)

func input(t *testing.T, name string, v *testutil.Vault, o testutil.Options) compare.Input {
	t.Helper()
	return compare.Input{
		Name:        name,
		Data:        testutil.MustWriteVault(t, v, o),
		Credentials: o.Credentials(),
	}
}

func newService(opts ...compare.Option) *compare.Service {
	return compare.NewService(crypto.NewProvider(), config.CompareConfig{}, nil, opts...)
}

var layouts = map[string]testutil.Options{
	"v3": testutil.V3Options("pw"),
	"v4": testutil.V4Options("pw"),
}

func TestCompare_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		after *testutil.Vault
		check func(t *testing.T, cs *diff.ChangeSet)
	}{
		{
			name:  "identical",
			after: testutil.BaseVault(),
			check: func(t *testing.T, cs *diff.ChangeSet) {
				assert.True(t, cs.Empty())
			},
		},
		{
			name:  "entry added",
			after: testutil.WithEntry(testutil.MailEntry()),
			check: func(t *testing.T, cs *diff.ChangeSet) {
				require.Equal(t, 1, cs.Len())
				assert.Equal(t, diff.EntryAdded, cs.Changes[0].Kind)
				assert.Equal(t, testutil.MailID, cs.Changes[0].UUID)
			},
		},
		{
			name:  "password changed",
			after: testutil.WithPassword("correct horse"),
			check: func(t *testing.T, cs *diff.ChangeSet) {
				require.Equal(t, 1, cs.Len())
				c := cs.Changes[0]
				assert.Equal(t, diff.FieldModified, c.Kind)
				assert.Equal(t, models.FieldPassword, c.Field)
				assert.True(t, c.Sensitive)
				_, _, ok := c.Values()
				assert.False(t, ok)
				_, _, err := cs.Reveal(0, diff.NewRevealIntent())
				assert.ErrorIs(t, err, diff.ErrRevealDenied)
			},
		},
		{
			name:  "entry moved",
			after: testutil.WithBankArchived(),
			check: func(t *testing.T, cs *diff.ChangeSet) {
				require.Equal(t, 1, cs.Len())
				c := cs.Changes[0]
				assert.Equal(t, diff.EntryMoved, c.Kind)
				assert.Equal(t, "Root", c.FromGroup())
				assert.Equal(t, "Archive", c.ToGroup())
			},
		},
	}

	for layout, opts := range layouts {
		for _, tt := range tests {
			t.Run(layout+"/"+tt.name, func(t *testing.T) {
				a := input(t, "a.kdbx", testutil.BaseVault(), opts)
				b := input(t, "b.kdbx", tt.after, opts)

				res, err := newService().Compare(context.Background(), a, b)
				require.NoError(t, err)
				defer res.Wipe()
				tt.check(t, res.Changes)
			})
		}
	}
}

func TestCompare_MixedVersions(t *testing.T) {
	a := input(t, "a.kdbx", testutil.BaseVault(), testutil.V3Options("one"))
	b := input(t, "b.kdbx", testutil.BaseVault(), testutil.V4Options("two"))

	res, err := newService().Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, res.Changes.Empty())
	assert.Equal(t, "3.1", res.Before.Version)
	assert.Equal(t, "4.1", res.After.Version)
	assert.Equal(t, "Salsa20", res.Before.InnerStream)
	assert.Equal(t, "AES-256", res.After.Cipher)
	assert.Equal(t, "AES-KDF", res.After.KDF)
	assert.Equal(t, 2, res.Before.Groups)
	assert.Equal(t, 1, res.Before.Entries)
	assert.Len(t, res.Before.SHA256, 64)
	assert.NotEqual(t, res.Before.SHA256, res.After.SHA256)
}

func TestCompare_RevealKeepsValues(t *testing.T) {
	opts := testutil.V4Options("pw")
	a := input(t, "a.kdbx", testutil.BaseVault(), opts)
	b := input(t, "b.kdbx", testutil.WithPassword("correct horse"), opts)

	intent := diff.NewRevealIntent()
	res, err := newService(compare.WithReveal(intent)).Compare(context.Background(), a, b)
	require.NoError(t, err)

	before, after, err := res.Changes.Reveal(0, intent)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", before)
	assert.Equal(t, "correct horse", after)

	res.Wipe()
	_, _, err = res.Changes.Reveal(0, intent)
	assert.ErrorIs(t, err, diff.ErrRevealDenied)
}

func TestCompare_WrongPassword(t *testing.T) {
	for layout, opts := range layouts {
		t.Run(layout, func(t *testing.T) {
			a := input(t, "a.kdbx", testutil.BaseVault(), opts)
			a.Credentials = crypto.PasswordCredentials("wrong")
			password := a.Credentials.Password
			b := input(t, "b.kdbx", testutil.BaseVault(), opts)

			res, err := newService().Compare(context.Background(), a, b)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, models.IsWrongCredentials(err))

			var fe *models.FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "a.kdbx", fe.Name)
			assert.Equal(t, make([]byte, len(password)), password)
		})
	}
}

func TestCompare_Truncated(t *testing.T) {
	for layout, opts := range layouts {
		t.Run(layout, func(t *testing.T) {
			a := input(t, "a.kdbx", testutil.BaseVault(), opts)
			b := input(t, "b.kdbx", testutil.BaseVault(), opts)
			b.Data = b.Data[:len(b.Data)-10]

			_, err := newService().Compare(context.Background(), a, b)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrTruncated)
			assert.NotErrorIs(t, err, models.ErrMalformed)
			assert.True(t, models.IsCorrupt(err))

			var fe *models.FileError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "b.kdbx", fe.Name)
		})
	}
}

func TestCompare_BlockAlignedTruncation(t *testing.T) {
	for layout, opts := range layouts {
		for _, cut := range []int{16, 32, 48} {
			t.Run(fmt.Sprintf("%s cut %d", layout, cut), func(t *testing.T) {
				a := input(t, "a.kdbx", testutil.BaseVault(), opts)
				b := input(t, "b.kdbx", testutil.BaseVault(), opts)
				b.Data = b.Data[:len(b.Data)-cut]

				_, err := newService().Compare(context.Background(), a, b)
				require.Error(t, err)
				assert.False(t, models.IsWrongCredentials(err))
				assert.True(t, models.IsCorrupt(err))
			})
		}
	}
}

func TestCompare_NotAVault(t *testing.T) {
	a := compare.Input{Name: "notes.txt", Data: []byte("hello"), Credentials: crypto.PasswordCredentials("pw")}
	b := input(t, "b.kdbx", testutil.BaseVault(), testutil.V4Options("pw"))

	_, err := newService().Compare(context.Background(), a, b)
	assert.Error(t, err)
	assert.True(t, models.IsCorrupt(err))
}

func TestCompare_ParallelDecode(t *testing.T) {
	opts := testutil.V4Options("pw")
	svc := compare.NewService(crypto.NewProvider(), config.CompareConfig{ParallelDecode: true}, nil)

	a := input(t, "a.kdbx", testutil.BaseVault(), opts)
	b := input(t, "b.kdbx", testutil.WithEntry(testutil.MailEntry()), opts)
	res, err := svc.Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changes.Len())

	a = input(t, "a.kdbx", testutil.BaseVault(), opts)
	b = input(t, "b.kdbx", testutil.BaseVault(), opts)
	b.Credentials = crypto.PasswordCredentials("nope")
	_, err = svc.Compare(context.Background(), a, b)
	assert.True(t, models.IsWrongCredentials(err))
}

func TestCompare_IgnoreFields(t *testing.T) {
	opts := testutil.V4Options("pw")
	svc := compare.NewService(crypto.NewProvider(), config.CompareConfig{IgnoreFields: []string{models.FieldPassword}}, nil)

	a := input(t, "a.kdbx", testutil.BaseVault(), opts)
	b := input(t, "b.kdbx", testutil.WithPassword("changed"), opts)
	res, err := svc.Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, res.Changes.Empty())
}

func TestCompare_Cancelled(t *testing.T) {
	opts := testutil.V4Options("pw")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService().Compare(ctx, input(t, "a.kdbx", testutil.BaseVault(), opts), input(t, "b.kdbx", testutil.BaseVault(), opts))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompare_FailsFastWithProviderError(t *testing.T) {
	provider := &testutil.MockProvider{}
	provider.On("Open", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &models.WrongCredentialsError{Check: "header hmac"}).Once()

	opts := testutil.V4Options("pw")
	svc := compare.NewService(provider, config.CompareConfig{}, nil)
	_, err := svc.Compare(context.Background(), input(t, "a.kdbx", testutil.BaseVault(), opts), input(t, "b.kdbx", testutil.BaseVault(), opts))

	assert.True(t, models.IsWrongCredentials(err))
	testutil.AssertMockExpectations(t, provider)
	provider.AssertNumberOfCalls(t, "Open", 1)
}

func TestCompare_LogsNoSecrets(t *testing.T) {
	logger, out := testutil.NewTestLogger()
	svc := compare.NewService(crypto.NewProvider(), config.CompareConfig{}, logger)

	opts := testutil.V4Options("s3cret-master")
	a := input(t, "a.kdbx", testutil.BaseVault(), opts)
	b := input(t, "b.kdbx", testutil.WithPassword("correct horse"), opts)
	_, err := svc.Compare(context.Background(), a, b)
	require.NoError(t, err)

	assert.True(t, out.HasMessage("Deriving key"))
	assert.True(t, out.HasMessage("Comparison complete"))
	for _, secret := range []string{"s3cret-master", "hunter2", "correct horse"} {
		assert.NotContains(t, out.String(), secret)
	}
}

func TestResult_Record(t *testing.T) {
	opts := testutil.V4Options("pw")
	a := input(t, "a.kdbx", testutil.BaseVault(), opts)
	b := input(t, "b.kdbx", testutil.WithEntry(testutil.MailEntry()), opts)
	res, err := newService().Compare(context.Background(), a, b)
	require.NoError(t, err)

	rec := res.Record()
	assert.Equal(t, "a.kdbx", rec.Before.Name)
	assert.Equal(t, res.After.SHA256, rec.After.SHA256)
	assert.Equal(t, map[string]int{"EntryAdded": 1}, rec.Counts)
	assert.Equal(t, 1, rec.Total())

	report := res.Report()
	assert.Same(t, res.Changes, report.Changes)
}

func TestInspect(t *testing.T) {
	data := testutil.MustWriteVault(t, testutil.BaseVault(), testutil.V4Options("pw"))

	info, err := compare.Inspect("a.kdbx", data)
	require.NoError(t, err)
	assert.Equal(t, "4.1", info.Version)
	assert.Equal(t, "AES-KDF", info.KDF)
	assert.Equal(t, uint64(16), info.KDFRounds)
	assert.Equal(t, "gzip", info.Compression)
	assert.Equal(t, len(data), info.Size)

	_, err = compare.Inspect("bad", bytes.Repeat([]byte{1}, 4))
	var fe *models.FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "bad", fe.Name)
}
