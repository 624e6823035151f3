package repository

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/kickstart/internal/db"
	"github.com/templui/kickstart/internal/model"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	database, err := db.Init("sqlite", conn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	return database
}

func newArtifact(id string, created time.Time) *model.Artifact {
	return &model.Artifact{
		ID:          id,
		AllowedIP:   "10.0.0.9",
		StoragePath: id,
		CreatedAt:   created,
		ExpiresAt:   created.Add(time.Hour),
	}
}

func TestArtifactRepository_CreateAndByID(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(newArtifact("aB3dE6gH.img", created)))

	got, err := repo.ByID("aB3dE6gH.img")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", got.AllowedIP)
	assert.Equal(t, "aB3dE6gH.img", got.StoragePath)
	assert.True(t, got.CreatedAt.Equal(created), "created_at %v", got.CreatedAt)
	assert.Equal(t, time.Hour, got.ExpiresAt.Sub(got.CreatedAt))
}

func TestArtifactRepository_ByIDNotFound(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))

	_, err := repo.ByID("missing0.img")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestArtifactRepository_DuplicateID(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(newArtifact("dupdupdu.img", now)))
	err := repo.Create(newArtifact("dupdupdu.img", now.Add(time.Minute)))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestArtifactRepository_ConcurrentCreateSameID(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))
	now := time.Now().UTC()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.Create(newArtifact("raceRACE.img", now))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateID)
	}
	assert.Equal(t, 1, succeeded)
}

func TestArtifactRepository_Expired(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(newArtifact("old00000.img", base)))
	require.NoError(t, repo.Create(newArtifact("old00001.img", base.Add(10*time.Minute))))
	require.NoError(t, repo.Create(newArtifact("fresh000.img", base.Add(2*time.Hour))))

	// Expiry is exclusive: a record expiring exactly at now is not yet due.
	expired, err := repo.Expired(base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = repo.Expired(base.Add(time.Hour + 15*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "old00000.img", expired[0].ID)
	assert.Equal(t, "old00001.img", expired[1].ID)
}

func TestArtifactRepository_Delete(t *testing.T) {
	repo := NewArtifactRepository(newTestDB(t))
	require.NoError(t, repo.Create(newArtifact("gone0000.img", time.Now().UTC())))

	require.NoError(t, repo.Delete("gone0000.img"))
	_, err := repo.ByID("gone0000.img")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	// Deleting an absent id is not an error.
	assert.NoError(t, repo.Delete("gone0000.img"))
}
