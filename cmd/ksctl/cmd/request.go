package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/templui/kickstart/internal/validation"
)

// readRequest loads a POST /ks body from path, or stdin when path is "-",
// and validates it the way the server does.
func readRequest(stdin io.Reader, path string) (*validation.KickstartRequest, error) {
	var (
		body []byte
		err  error
	)
	if path == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	req, err := validation.DecodeKickstartRequest(body)
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		return nil, fmt.Errorf("invalid request: %w", fields)
	}
	return req, err
}

// writeOutput writes data to path, or to w when path is "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
