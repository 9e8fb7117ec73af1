package types

import (
	"errors"
	"fmt"
	"io/fs"
)

// Fatal errors. Everything else is collected per path and reported.
var (
	ErrRootUnreachable = errors.New("root unreachable")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// ErrorKind classifies a per-path error.
type ErrorKind int

const (
	AccessDenied ErrorKind = iota
	RootUnreachable
	ReadFailure
	DeletionFailure
	InvalidConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case AccessDenied:
		return "access-denied"
	case RootUnreachable:
		return "root-unreachable"
	case ReadFailure:
		return "read-failure"
	case DeletionFailure:
		return "deletion-failure"
	case InvalidConfiguration:
		return "invalid-configuration"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name for JSON and YAML reports.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// PathError records a non-fatal failure for a single path.
type PathError struct {
	Kind ErrorKind
	Path string
	Err  error
}

// NewPathError wraps err for path with the given kind.
func NewPathError(kind ErrorKind, path string, err error) *PathError {
	return &PathError{Kind: kind, Path: path, Err: err}
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Reason returns the underlying error text without the path prefix.
func (e *PathError) Reason() string {
	var pe *fs.PathError
	if errors.As(e.Err, &pe) {
		return pe.Err.Error()
	}
	return e.Err.Error()
}

// InvalidConfigf returns an error wrapping ErrInvalidConfig.
func InvalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
