package encfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Kind classifies an error into the categories callers act on.
type Kind uint8

const (
	// KindIoError is a generic backing-storage failure
	KindIoError Kind = iota
	// KindNotFound means the backing path does not exist
	KindNotFound
	// KindPermissionDenied means the backing storage refused access
	KindPermissionDenied
	// KindPathTooLong means a resolved path exceeds PathMax
	KindPathTooLong
	// KindCryptoFailure means the transform rejected its input or failed
	KindCryptoFailure
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "io error"
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindPathTooLong:
		return "path too long"
	case KindCryptoFailure:
		return "crypto failure"
	default:
		return "unknown"
	}
}

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PathError reports a virtual path whose backing path would not fit PathMax.
type PathError struct {
	Path   string // Virtual path as supplied by the caller
	Length int    // Length of the resolved path in bytes
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path too long: %s resolves to %d bytes (limit %d)", e.Path, e.Length, PathMax-1)
}

func (e *PathError) Unwrap() error {
	return ErrPathTooLong
}

// EncryptionError represents an encryption or decryption failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // Backing path, if known
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *EncryptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a file system I/O error
type IOError struct {
	Operation string // "read", "write", "open", "getxattr", etc.
	Path      string // Backing path
	Offset    int64  // File offset, -1 if not applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" && e.Offset >= 0 {
		return fmt.Sprintf("io error: %s %s at offset %d: %s", e.Operation, e.Path, e.Offset, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrPathTooLong        = errors.New("path too long")
	ErrAuthFailed         = errors.New("authentication failed - wrong passphrase or corrupted data")
	ErrInvalidHeader      = errors.New("invalid file header")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrUnsupportedCipher  = errors.New("unsupported cipher suite")
	ErrNilConfig          = errors.New("config cannot be nil")
	ErrEmptyPassphrase    = errors.New("passphrase cannot be empty")
	ErrNegativeOffset     = errors.New("negative offset not allowed")
	ErrTruncated          = errors.New("ciphertext truncated")
)

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewEncryptionError creates a new encryption error. An error that already
// is an EncryptionError keeps its operation and only gains the path.
func NewEncryptionError(operation, path string, err error) error {
	var ee *EncryptionError
	if errors.As(err, &ee) {
		if ee.Path == "" {
			ee.Path = path
		}
		return ee
	}
	return &EncryptionError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return NewIOErrorAt(operation, path, -1, err)
}

// NewIOErrorAt creates a new I/O error at a file offset
func NewIOErrorAt(operation, path string, offset int64, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Offset:    offset,
		Message:   err.Error(),
		Err:       err,
	}
}

// KindOf classifies err. Crypto failures win over whatever they wrap, so a
// read error during decryption is still reported as a crypto failure.
func KindOf(err error) Kind {
	var (
		ee *EncryptionError
		pe *PathError
	)
	switch {
	case errors.As(err, &ee):
		return KindCryptoFailure
	case errors.As(err, &pe), errors.Is(err, ErrPathTooLong), errors.Is(err, syscall.ENAMETOOLONG):
		return KindPathTooLong
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	default:
		return KindIoError
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCryptoFailure checks if an error is an encryption or decryption failure
func IsCryptoFailure(err error) bool {
	return err != nil && KindOf(err) == KindCryptoFailure
}

// IsNotFound checks if the backing path is missing
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsPermissionDenied checks if the backing storage refused access
func IsPermissionDenied(err error) bool {
	return err != nil && KindOf(err) == KindPermissionDenied
}

// IsPathTooLong checks if a path could not be resolved within PathMax
func IsPathTooLong(err error) bool {
	return err != nil && KindOf(err) == KindPathTooLong
}
