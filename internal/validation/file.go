package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidFile  = errors.New("invalid file")
	ErrFileTooLarge = errors.New("file too large")
)

// magic is a byte signature expected at a fixed offset.
type magic struct {
	Offset int64
	Bytes  []byte
}

// FileConstraints defines validation rules for file uploads
type FileConstraints struct {
	AllowedExtensions map[string]bool
	Magic             []magic
	MaxSize           int64
}

// ISOConstraints accepts ISO9660 images: the first volume descriptor
// starts at byte 32768 and carries the "CD001" identifier.
func ISOConstraints(maxSize int64) FileConstraints {
	return FileConstraints{
		AllowedExtensions: map[string]bool{
			".iso": true,
		},
		Magic: []magic{
			{Offset: 32769, Bytes: []byte("CD001")},
		},
		MaxSize: maxSize,
	}
}

// ValidateFile checks name, size and content signature of an upload.
func ValidateFile(name string, size int64, content io.ReaderAt, constraints FileConstraints) error {
	if err := ValidateFilename(name); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !constraints.AllowedExtensions[ext] {
		return fmt.Errorf("%w: extension %q not allowed", ErrInvalidFile, ext)
	}

	if constraints.MaxSize > 0 && size > constraints.MaxSize {
		return fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, constraints.MaxSize/(1<<20))
	}

	// Check magic numbers from file content; the name alone can be faked.
	for _, m := range constraints.Magic {
		buf := make([]byte, len(m.Bytes))
		if _, err := content.ReadAt(buf, m.Offset); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: file is truncated", ErrInvalidFile)
			}
			return fmt.Errorf("failed to read file: %w", err)
		}
		if !bytes.Equal(buf, m.Bytes) {
			return fmt.Errorf("%w: unrecognized file content", ErrInvalidFile)
		}
	}

	return nil
}

// ValidateFilename accepts plain file names that are safe to use as a
// single path element and as a URL segment.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return fmt.Errorf("%w: bad file name", ErrInvalidFile)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: hidden file names are not allowed", ErrInvalidFile)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: file name may only contain letters, digits, '.', '-' and '_'", ErrInvalidFile)
		}
	}
	return nil
}
