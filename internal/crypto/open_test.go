package crypto_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/test/testutil"
)

func sampleVault() *testutil.Vault {
	return &testutil.Vault{
		Name: "Crypto",
		Root: testutil.Group{
			UUID: uuid.New(),
			Name: "Root",
			Entries: []testutil.Entry{{
				UUID: uuid.New(),
				Fields: []testutil.Field{
					{Key: models.FieldTitle, Value: "Mail"},
					{Key: models.FieldPassword, Value: "hunter2", Protected: true},
				},
			}},
		},
	}
}

func openFixture(t *testing.T, data []byte, creds crypto.Credentials) ([]byte, error) {
	t.Helper()
	h, payload, err := kdbx.Parse(data)
	require.NoError(t, err)
	return crypto.NewProvider().Open(h, payload, creds)
}

func TestOpen_Layouts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *testutil.Options)
	}{
		{"v4 AES", func(o *testutil.Options) {}},
		{"v4 Twofish", func(o *testutil.Options) { o.Cipher = kdbx.CipherTwofish }},
		{"v4 ChaCha20", func(o *testutil.Options) { o.Cipher = kdbx.CipherChaCha20 }},
		{"v4 Argon2id", func(o *testutil.Options) { o.KDF = kdbx.KDFArgon2id }},
		{"v4 Argon2d", func(o *testutil.Options) { o.KDF = kdbx.KDFArgon2d }},
		{"v4.0 small blocks", func(o *testutil.Options) { o.MinorVersion = 0; o.BlockSize = 50 }},
		{"v3 AES", func(o *testutil.Options) { o.MajorVersion = kdbx.MajorVersion3; o.InnerStream = kdbx.InnerStreamSalsa20 }},
		{"v3 Twofish", func(o *testutil.Options) {
			o.MajorVersion = kdbx.MajorVersion3
			o.Cipher = kdbx.CipherTwofish
		}},
		{"v3 ChaCha20 small blocks", func(o *testutil.Options) {
			o.MajorVersion = kdbx.MajorVersion3
			o.Cipher = kdbx.CipherChaCha20
			o.BlockSize = 33
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testutil.V4Options("correct horse")
			opts.Compress = false
			tt.mutate(&opts)

			data := testutil.MustWriteVault(t, sampleVault(), opts)
			content, err := openFixture(t, data, opts.Credentials())
			require.NoError(t, err)
			assert.True(t, bytes.Contains(content, []byte("<KeePassFile>")))
		})
	}
}

func TestOpen_KeyFileOnly(t *testing.T) {
	opts := testutil.V4Options("")
	opts.NoPassword = true
	opts.KeyFile = rawKey()

	data := testutil.MustWriteVault(t, sampleVault(), opts)
	_, err := openFixture(t, data, opts.Credentials())
	require.NoError(t, err)

	_, err = openFixture(t, data, crypto.Credentials{KeyFile: []byte("another key file")})
	assert.ErrorIs(t, err, models.ErrWrongCredentials)
}

func TestOpen_WrongPassword(t *testing.T) {
	for _, opts := range []testutil.Options{testutil.V4Options("right"), testutil.V3Options("right")} {
		t.Run(fmt.Sprintf("v%d", opts.MajorVersion), func(t *testing.T) {
			data := testutil.MustWriteVault(t, sampleVault(), opts)
			_, err := openFixture(t, data, crypto.PasswordCredentials("wrong"))

			var wrong *models.WrongCredentialsError
			require.ErrorAs(t, err, &wrong)
			assert.True(t, models.IsWrongCredentials(err))
			assert.False(t, models.IsCorrupt(err))
		})
	}
}

func TestOpen_WrongPasswordWipesKeyMaterial(t *testing.T) {
	opts := testutil.V4Options("right")
	data := testutil.MustWriteVault(t, sampleVault(), opts)
	h, payload, err := kdbx.Parse(data)
	require.NoError(t, err)

	var wiped [][]byte
	restore := crypto.SetWipeObserver(func(b []byte) { wiped = append(wiped, b) })
	defer restore()

	_, err = crypto.Open(h, payload, crypto.PasswordCredentials("wrong"))
	require.ErrorIs(t, err, models.ErrWrongCredentials)

	// composite key, transformed key, cipher key, hmac key and the
	// intermediate AES-KDF state at least.
	assert.GreaterOrEqual(t, len(wiped), 5)
	for i, b := range wiped {
		assert.Equal(t, make([]byte, len(b)), b, "buffer %d not zeroed", i)
	}
}

func TestOpen_V3WrongPasswordWipesPlaintext(t *testing.T) {
	opts := testutil.V3Options("right")
	data := testutil.MustWriteVault(t, sampleVault(), opts)
	h, payload, err := kdbx.Parse(data)
	require.NoError(t, err)

	var sizes []int
	restore := crypto.SetWipeObserver(func(b []byte) { sizes = append(sizes, len(b)) })
	defer restore()

	_, err = crypto.Open(h, payload, crypto.PasswordCredentials("wrong"))
	require.ErrorIs(t, err, models.ErrWrongCredentials)
	assert.Contains(t, sizes, len(payload))
}

func TestOpen_Truncated(t *testing.T) {
	for _, opts := range []testutil.Options{testutil.V4Options("pw"), testutil.V3Options("pw")} {
		data := testutil.MustWriteVault(t, sampleVault(), opts)
		_, err := openFixture(t, data[:len(data)-10], opts.Credentials())
		assert.ErrorIs(t, err, models.ErrTruncated)
	}
}

func TestOpen_V3BlockAlignedCutIsCorrupt(t *testing.T) {
	opts := testutil.V3Options("pw")
	data := testutil.MustWriteVault(t, sampleVault(), opts)

	for _, cut := range []int{16, 32, 48} {
		t.Run(fmt.Sprintf("cut %d", cut), func(t *testing.T) {
			_, err := openFixture(t, data[:len(data)-cut], opts.Credentials())
			require.Error(t, err)
			assert.False(t, models.IsWrongCredentials(err))
			assert.True(t, models.IsCorrupt(err))
		})
	}
}

func TestOpen_TamperedBlock(t *testing.T) {
	opts := testutil.V4Options("pw")
	data := testutil.MustWriteVault(t, sampleVault(), opts)
	h, payload, err := kdbx.Parse(data)
	require.NoError(t, err)

	tampered := bytes.Clone(payload)
	tampered[40] ^= 0xFF
	_, err = crypto.Open(h, tampered, opts.Credentials())
	assert.ErrorIs(t, err, models.ErrMalformed)
}
