package isoeditor

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"slices"
)

// Transform maps a file's current content to its replacement. Returning
// content equal to the input leaves the file untouched.
type Transform func(content []byte) []byte

// ReplaceFirst returns a Transform substituting the first match of re
// with repl. Content without a match is returned as is.
func ReplaceFirst(re *regexp.Regexp, repl string) Transform {
	return func(content []byte) []byte {
		loc := re.FindIndex(content)
		if loc == nil {
			return content
		}
		out := make([]byte, 0, len(content)-(loc[1]-loc[0])+len(repl))
		out = append(out, content[:loc[0]]...)
		out = append(out, repl...)
		return append(out, content[loc[1]:]...)
	}
}

type plannedWrite struct {
	path    string
	entry   entry
	content []byte
}

// Patch applies edits to the image at imagePath in place.
//
// Every path is resolved and transformed before anything is written: a
// missing entry, an unreadable image or content that no longer fits its
// sectors fails the whole call with nothing modified. Errors during the
// write phase are reported per path.
func Patch(imagePath string, edits map[string]Transform) error {
	img, err := Open(imagePath, true)
	if err != nil {
		return err
	}
	defer func() { _ = img.Close() }()

	paths := make([]string, 0, len(edits))
	for p := range edits {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var plan []plannedWrite
	for _, p := range paths {
		e, err := img.lookup(p)
		if err != nil {
			return &PathError{Path: p, Err: err}
		}
		current, err := img.read(e)
		if err != nil {
			return &PathError{Path: p, Err: err}
		}

		next := edits[p](bytes.Clone(current))
		if bytes.Equal(next, current) {
			continue
		}
		if int64(len(next)) > img.allocated(e) {
			return &PathError{
				Path: p,
				Err:  fmt.Errorf("%w: %d bytes, %d allocated", ErrWriteRejected, len(next), img.allocated(e)),
			}
		}
		plan = append(plan, plannedWrite{path: p, entry: e, content: next})
	}
	if len(plan) == 0 {
		return nil
	}

	records, err := img.extentRecords()
	if err != nil {
		return err
	}

	var errs []error
	for _, w := range plan {
		offsets := records[w.entry.extent]
		if !slices.Contains(offsets, w.entry.offset) {
			offsets = append(offsets, w.entry.offset)
		}
		if err := img.writeInPlace(w.entry, w.content, offsets); err != nil {
			errs = append(errs, &PathError{Path: w.path, Err: err})
		}
	}
	if err := img.f.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
