package upload

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Sentinel errors for the two user-input failure classes. Both are meant
// to reach the caller as displayable guidance, checked with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("upload: unsupported format")
	ErrFileTooLarge      = errors.New("upload: file too large")
)

// UnsupportedError reports a file whose format is not in the registry.
type UnsupportedError struct {
	Name     string
	MIMEType string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%q is not a supported file type; try %s", e.Name, categoryExamples)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupportedFormat }

// SizeError reports a file that exceeds its category's ceiling.
type SizeError struct {
	Category string
	Size     int64
	Limit    int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s files are limited to %s (got %s)",
		e.Category, humanize.IBytes(uint64(e.Limit)), humanize.IBytes(uint64(e.Size)))
}

func (e *SizeError) Unwrap() error { return ErrFileTooLarge }
