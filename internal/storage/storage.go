package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	cfg "github.com/templui/kickstart/internal/config"
)

var (
	ErrExist    = errors.New("object already exists")
	ErrNotExist = errors.New("object does not exist")
)

// Storage defines the interface for artifact storage operations
type Storage interface {
	// Save stores a new object at the given path. It fails with ErrExist
	// when the path is taken and never overwrites existing content.
	Save(path string, r io.Reader) error

	// Open returns the object at path or ErrNotExist.
	Open(path string) (io.ReadCloser, error)

	// Delete removes the object at path. ErrNotExist is returned when
	// there was nothing to delete.
	Delete(path string) error
}

// New creates the artifact storage selected by STORAGE_DRIVER.
func New(c *cfg.Config) (Storage, error) {
	switch c.StorageDriver {
	case "", "local":
		slog.Info("initializing local storage", "path", c.FloppyPath)
		return NewLocalStorage(c.FloppyPath)
	case "s3":
		slog.Info("initializing S3 storage",
			"bucket", c.S3Bucket,
			"region", c.S3Region,
			"endpoint", c.S3Endpoint,
		)
		return NewS3Storage(S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Endpoint:  c.S3Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
}
