package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		code     string
		wrong    bool
		corrupt  bool
		want     string
	}{
		{
			name:     "format",
			err:      &models.FormatError{Reason: "bad signature"},
			sentinel: models.ErrFormat,
			code:     models.ErrCodeFormat,
			corrupt:  true,
			want:     "invalid container format: bad signature",
		},
		{
			name:     "unsupported version",
			err:      &models.UnsupportedVersionError{Major: 5, Minor: 0},
			sentinel: models.ErrUnsupported,
			code:     models.ErrCodeUnsupportedVersion,
			corrupt:  true,
			want:     "unsupported container version 5.0",
		},
		{
			name:     "unsupported algorithm",
			err:      &models.UnsupportedAlgorithmError{Kind: "cipher", ID: "x"},
			sentinel: models.ErrUnsupported,
			code:     models.ErrCodeUnsupportedAlgorithm,
			corrupt:  true,
			want:     "unsupported cipher: x",
		},
		{
			name:     "truncated",
			err:      &models.TruncatedFileError{Section: "header", Need: 4, Have: 1},
			sentinel: models.ErrTruncated,
			code:     models.ErrCodeTruncated,
			corrupt:  true,
			want:     "truncated file: header needs 4 bytes, 1 available",
		},
		{
			name:     "wrong credentials",
			err:      &models.WrongCredentialsError{Check: "header hmac"},
			sentinel: models.ErrWrongCredentials,
			code:     models.ErrCodeWrongCredentials,
			wrong:    true,
			want:     "wrong credentials or corrupted key: header hmac mismatch",
		},
		{
			name:     "malformed",
			err:      &models.MalformedPayloadError{Reason: "missing Root"},
			sentinel: models.ErrMalformed,
			code:     models.ErrCodeMalformed,
			corrupt:  true,
			want:     "malformed payload: missing Root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.code, models.Code(tt.err))
			assert.Equal(t, tt.wrong, models.IsWrongCredentials(tt.err))
			assert.Equal(t, tt.corrupt, models.IsCorrupt(tt.err))

			wrapped := &models.FileError{Name: "a.kdbx", Err: fmt.Errorf("open: %w", tt.err)}
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.code, models.Code(wrapped))
			assert.Equal(t, "a.kdbx: open: "+tt.want, wrapped.Error())
		})
	}
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &models.MalformedPayloadError{Reason: "decompress payload", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "malformed payload: decompress payload: unexpected EOF", err.Error())

	assert.Equal(t, "", models.Code(nil))
	assert.Equal(t, models.ErrCodeInternal, models.Code(errors.New("boom")))
	assert.False(t, models.IsCorrupt(models.ErrNoCredentials))
}
