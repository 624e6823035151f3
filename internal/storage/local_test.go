package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/templui/kickstart/internal/config"
)

func TestLocalStorage_SaveOpenDelete(t *testing.T) {
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "floppy"))
	require.NoError(t, err)

	require.NoError(t, s.Save("aB3dE6gH.img", strings.NewReader("image bytes")))

	rc, err := s.Open("aB3dE6gH.img")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "image bytes", string(data))

	require.NoError(t, s.Delete("aB3dE6gH.img"))
	_, err = s.Open("aB3dE6gH.img")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.ErrorIs(t, s.Delete("aB3dE6gH.img"), ErrNotExist)
}

func TestLocalStorage_SaveNeverOverwrites(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save("same.img", strings.NewReader("first")))
	err = s.Save("same.img", strings.NewReader("second"))
	require.ErrorIs(t, err, ErrExist)

	rc, err := s.Open("same.img")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLocalStorage_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	require.NoError(t, s.Save("a.img", strings.NewReader("a")))
	require.ErrorIs(t, s.Save("a.img", strings.NewReader("b")), ErrExist)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.img", entries[0].Name())
}

func TestLocalStorage_PathsStayInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	require.NoError(t, s.Save("../escape.img", strings.NewReader("x")))
	_, err = os.Stat(filepath.Join(parent, "escape.img"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(root, "escape.img"))
	assert.NoError(t, err)

	assert.Error(t, s.Save("", strings.NewReader("x")))
}

func TestNew_SelectsDriver(t *testing.T) {
	s, err := New(&cfg.Config{StorageDriver: "local", FloppyPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(&cfg.Config{StorageDriver: "ftp"})
	assert.Error(t, err)
}
