package service

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/templui/kickstart/internal/db"
	"github.com/templui/kickstart/internal/kickstart"
	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/model"
	"github.com/templui/kickstart/internal/repository"
	"github.com/templui/kickstart/internal/storage"
)

var errInjected = errors.New("injected failure")

func newTestRepo(t *testing.T) repository.ArtifactRepository {
	t.Helper()
	database, err := db.Init("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	return repository.NewArtifactRepository(database)
}

func newTestStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	s, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "floppy"))
	require.NoError(t, err)
	return s
}

// flakyStorage fails Delete for the listed paths.
type flakyStorage struct {
	storage.Storage

	mu         sync.Mutex
	failDelete map[string]bool
}

func (f *flakyStorage) Delete(path string) error {
	f.mu.Lock()
	fail := f.failDelete[path]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Storage.Delete(path)
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func esx01Params() kickstart.Params {
	return kickstart.Params{
		Hostname:       "esx01",
		RootPW:         "XYZ",
		Disk:           "mpx.vmhba0",
		Device:         kickstart.DefaultDevice,
		IP:             "10.0.0.5",
		Netmask:        "255.255.255.0",
		Gateway:        "10.0.0.1",
		Nameservers:    []string{"8.8.8.8", "8.8.4.4"},
		AddVMPortGroup: true,
	}
}

func newTestArtifactService(repo repository.ArtifactRepository, store storage.Storage, clock *fixedClock) *ArtifactService {
	s := NewArtifactService(repo, store, NewAccessGate(nil), metrics.Nop{})
	s.now = clock.Now
	return s
}

func readAllClose(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func storedIDs(t *testing.T, repo repository.ArtifactRepository, ids ...string) []*model.Artifact {
	t.Helper()
	var out []*model.Artifact
	for _, id := range ids {
		a, err := repo.ByID(id)
		if errors.Is(err, repository.ErrArtifactNotFound) {
			continue
		}
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}
