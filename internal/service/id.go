package service

import (
	"crypto/rand"
	"fmt"
)

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 8
	idSuffix   = ".img"
)

// newArtifactID returns 8 uniformly random alphanumerics plus ".img".
func newArtifactID() (string, error) {
	// Largest multiple of len(idAlphabet) below 256, for rejection sampling.
	const limit = 256 - 256%len(idAlphabet)

	out := make([]byte, 0, idLength+len(idSuffix))
	buf := make([]byte, 16)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate artifact id: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(append(out, idSuffix...)), nil
}
