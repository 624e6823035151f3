package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/templui/kickstart/internal/isoeditor"
	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/model"
	"github.com/templui/kickstart/internal/validation"
)

// Boot configuration files of an ESXi installer, for BIOS and UEFI boot.
const (
	BIOSBootConfig = "/BOOT.CFG;1"
	EFIBootConfig  = "/EFI/BOOT/BOOT.CFG;1"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrImagePatch    = errors.New("failed to patch image")
)

var kernelOptPattern = regexp.MustCompile(`kernelopt=.*`)

// BootConfigEdits returns the edits that make an ESXi installer read its
// kickstart file from removable media.
func BootConfigEdits() map[string]isoeditor.Transform {
	ks := isoeditor.ReplaceFirst(kernelOptPattern, "kernelopt=runweasel ks=usb")
	return map[string]isoeditor.Transform{
		BIOSBootConfig: ks,
		EFIBootConfig:  ks,
	}
}

// ImageService stores patched installer ISOs in a directory.
type ImageService struct {
	dir      string
	observer metrics.Observer
}

func NewImageService(dir string, observer metrics.Observer) (*ImageService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &ImageService{dir: dir, observer: observer}, nil
}

// Upload stores r as name and patches its boot configuration. The image
// is written and patched under a temporary name and renamed into place,
// so readers only ever see complete, patched images.
func (s *ImageService) Upload(name string, r io.Reader) (*model.Image, error) {
	img, err := s.upload(name, r)
	if err != nil {
		s.observer.ImageUploaded(metrics.ResultError, 0)
		return nil, err
	}
	s.observer.ImageUploaded(metrics.ResultOK, img.Size)
	slog.Info("image uploaded", "filename", img.Filename, "size", img.Size)
	return img, nil
}

func (s *ImageService) upload(name string, r io.Reader) (*model.Image, error) {
	if err := validation.ValidateFilename(name); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if err := isoeditor.Patch(tmpPath, BootConfigEdits()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImagePatch, err)
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, err
	}
	if err := os.Chmod(final, 0o644); err != nil {
		return nil, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	return &model.Image{Filename: name, Size: size, ModTime: info.ModTime()}, nil
}

// List returns the stored images sorted by name.
func (s *ImageService) List() ([]model.Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	images := make([]model.Image, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		images = append(images, model.Image{Filename: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	slices.SortFunc(images, func(a, b model.Image) int { return strings.Compare(a.Filename, b.Filename) })
	return images, nil
}

// Open returns the stored image called name. The caller closes the file.
func (s *ImageService) Open(name string) (*os.File, fs.FileInfo, error) {
	if validation.ValidateFilename(name) != nil {
		return nil, nil, ErrImageNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrImageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, ErrImageNotFound
	}
	return f, info, nil
}
