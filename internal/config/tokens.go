package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/templui/kickstart/internal/model"
	"gopkg.in/yaml.v3"
)

// TokenFile is the on-disk layout of TOKENS_FILE.
type TokenFile struct {
	Tokens []model.APIToken `yaml:"tokens"`
}

// LoadTokens reads the API tokens from path. When the file does not exist
// it is created with a single random token, which is returned as
// generated so the caller can show it once; it cannot be recovered later
// except by reading the file.
func LoadTokens(path string) (tokens []model.APIToken, generated string, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		token, err := GenerateToken()
		if err != nil {
			return nil, "", err
		}
		tokens = []model.APIToken{{Token: token, Label: "default"}}
		if err := WriteTokens(path, tokens); err != nil {
			return nil, "", err
		}
		return tokens, token, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read token file: %w", err)
	}

	var file TokenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("failed to parse token file: %w", err)
	}
	for i, t := range file.Tokens {
		if len(t.Token) < 16 {
			return nil, "", fmt.Errorf("token %d (%q) is shorter than 16 characters", i, t.Label)
		}
	}
	if len(file.Tokens) == 0 {
		return nil, "", fmt.Errorf("token file %s defines no tokens", path)
	}
	return file.Tokens, "", nil
}

// WriteTokens stores tokens at path, readable by the owner only.
func WriteTokens(path string, tokens []model.APIToken) error {
	data, err := yaml.Marshal(TokenFile{Tokens: tokens})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// GenerateToken returns 32 random bytes, hex encoded.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
