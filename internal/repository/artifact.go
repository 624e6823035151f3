package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/kickstart/internal/model"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrDuplicateID      = errors.New("artifact id already exists")
)

type ArtifactRepository interface {
	Create(artifact *model.Artifact) error
	ByID(id string) (*model.Artifact, error)
	Expired(now time.Time) ([]*model.Artifact, error)
	Delete(id string) error
}

type artifactRepository struct {
	db *sqlx.DB
}

func NewArtifactRepository(db *sqlx.DB) ArtifactRepository {
	return &artifactRepository{db: db}
}

// Create inserts the record. The primary key decides collisions, so two
// concurrent creates for the same id cannot both succeed.
func (r *artifactRepository) Create(artifact *model.Artifact) error {
	query := `INSERT INTO artifacts (id, allowed_ip, storage_path, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(query,
		artifact.ID,
		artifact.AllowedIP,
		artifact.StoragePath,
		artifact.CreatedAt.UTC(),
		artifact.ExpiresAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateID
	}

	return err
}

func (r *artifactRepository) ByID(id string) (*model.Artifact, error) {
	artifact := &model.Artifact{}
	query := `SELECT id, allowed_ip, storage_path, created_at, expires_at FROM artifacts WHERE id = $1`

	err := r.db.Get(artifact, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

// Expired returns every record whose expiry lies strictly before now,
// oldest first.
func (r *artifactRepository) Expired(now time.Time) ([]*model.Artifact, error) {
	var artifacts []*model.Artifact
	query := `SELECT id, allowed_ip, storage_path, created_at, expires_at FROM artifacts
	          WHERE expires_at < $1 ORDER BY expires_at`

	err := r.db.Select(&artifacts, query, now.UTC())
	if err != nil {
		return nil, err
	}

	return artifacts, nil
}

func (r *artifactRepository) Delete(id string) error {
	query := `DELETE FROM artifacts WHERE id = $1`
	_, err := r.db.Exec(query, id)
	return err
}
