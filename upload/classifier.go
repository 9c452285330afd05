// Package upload validates files against the format and size policy of
// the analysis service before any bytes leave the client. Classify is a
// pure decision table: no network, no disk.
package upload

import (
	"path/filepath"
	"strings"
)

// File is the minimal description of a candidate upload.
type File struct {
	Name     string
	MIMEType string
	ByteSize int64
}

// Descriptor is the validated, classified form of an upload.
type Descriptor struct {
	Name      string
	ByteSize  int64
	MIMEType  string
	Category  string
	Tier      Tier
	SizeLimit int64
}

// genericMIMETypes are reported types that carry no format information;
// they fall through to the extension lookup.
var genericMIMETypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// Classify resolves a registry entry for the file and checks its size
// against the category ceiling.
//
// Resolution order: MIME type first, filename extension second. Failures
// are *UnsupportedError or *SizeError, matchable via ErrUnsupportedFormat
// and ErrFileTooLarge.
func Classify(f File) (*Descriptor, error) {
	format, ok := resolve(f)
	if !ok {
		return nil, &UnsupportedError{Name: f.Name, MIMEType: f.MIMEType}
	}

	limit := format.Limit()
	if f.ByteSize > limit {
		return nil, &SizeError{Category: format.Category, Size: f.ByteSize, Limit: limit}
	}

	return &Descriptor{
		Name:      f.Name,
		ByteSize:  f.ByteSize,
		MIMEType:  f.MIMEType,
		Category:  format.Category,
		Tier:      format.Tier,
		SizeLimit: limit,
	}, nil
}

func resolve(f File) (Format, bool) {
	mimeType := strings.ToLower(strings.TrimSpace(f.MIMEType))
	// Reported types can carry parameters, e.g. "text/csv; charset=utf-8".
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	if !genericMIMETypes[mimeType] {
		if format, ok := byMIME[mimeType]; ok {
			return format, true
		}
	}

	ext := strings.ToLower(filepath.Ext(f.Name))
	format, ok := byExtension[ext]
	return format, ok
}
