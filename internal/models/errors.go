package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeFormat               = "FORMAT_ERROR"
	ErrCodeUnsupportedVersion   = "UNSUPPORTED_VERSION"
	ErrCodeUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
	ErrCodeTruncated            = "TRUNCATED_FILE"
	ErrCodeWrongCredentials     = "WRONG_CREDENTIALS"
	ErrCodeMalformed            = "MALFORMED_PAYLOAD"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// Sentinel errors. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrFormat           = errors.New("invalid container format")
	ErrUnsupported      = errors.New("unsupported container")
	ErrTruncated        = errors.New("truncated file")
	ErrWrongCredentials = errors.New("wrong credentials")
	ErrMalformed        = errors.New("malformed payload")
	ErrNoCredentials    = errors.New("no credentials supplied")
)

// FormatError reports a bad signature or an unreadable header.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid container format: %s", e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// UnsupportedVersionError reports a container version outside the supported range.
type UnsupportedVersionError struct {
	Major uint16
	Minor uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported container version %d.%d", e.Major, e.Minor)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupported }

// UnsupportedAlgorithmError reports an unknown cipher, KDF, compression or
// inner stream identifier.
type UnsupportedAlgorithmError struct {
	Kind string
	ID   string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.Kind, e.ID)
}

func (e *UnsupportedAlgorithmError) Is(target error) bool { return target == ErrUnsupported }

// TruncatedFileError reports a declared length that runs past the end of the data.
type TruncatedFileError struct {
	Section string
	Need    int
	Have    int
}

func (e *TruncatedFileError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("truncated file: %s needs %d bytes, %d available", e.Section, e.Need, e.Have)
	}
	return fmt.Sprintf("truncated file: %s", e.Section)
}

func (e *TruncatedFileError) Is(target error) bool { return target == ErrTruncated }

// WrongCredentialsError reports a failed post-decryption integrity check.
type WrongCredentialsError struct {
	Check string
}

func (e *WrongCredentialsError) Error() string {
	return fmt.Sprintf("wrong credentials or corrupted key: %s mismatch", e.Check)
}

func (e *WrongCredentialsError) Is(target error) bool { return target == ErrWrongCredentials }

// MalformedPayloadError reports structural corruption after successful decryption.
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed payload: %s", e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformed }

// FileError attaches the input name to a pipeline failure.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Code maps an error onto one of the ErrCode constants.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWrongCredentials):
		return ErrCodeWrongCredentials
	case errors.Is(err, ErrTruncated):
		return ErrCodeTruncated
	case errors.Is(err, ErrMalformed):
		return ErrCodeMalformed
	case errors.Is(err, ErrFormat):
		return ErrCodeFormat
	case errors.Is(err, ErrUnsupported):
		var ve *UnsupportedVersionError
		if errors.As(err, &ve) {
			return ErrCodeUnsupportedVersion
		}
		return ErrCodeUnsupportedAlgorithm
	default:
		return ErrCodeInternal
	}
}

// IsWrongCredentials reports whether err is a credentials failure.
func IsWrongCredentials(err error) bool {
	return errors.Is(err, ErrWrongCredentials)
}

// IsCorrupt reports whether err means the file itself is damaged or unsupported.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrTruncated) || errors.Is(err, ErrMalformed)
}
