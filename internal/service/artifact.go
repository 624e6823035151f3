package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/templui/kickstart/internal/fatimg"
	"github.com/templui/kickstart/internal/kickstart"
	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/model"
	"github.com/templui/kickstart/internal/repository"
	"github.com/templui/kickstart/internal/storage"
)

// ArtifactTTL is how long a floppy artifact stays retrievable.
const ArtifactTTL = 60 * time.Minute

// KickstartFilename is the name of the single file on every floppy.
const KickstartFilename = "ks.cfg"

const maxIDAttempts = 5

var (
	ErrImageBuild       = errors.New("failed to build image")
	ErrIDExhausted      = errors.New("could not allocate a unique artifact id")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrForbidden        = errors.New("requester is not allowed to retrieve this artifact")
)

type ArtifactService struct {
	artifactRepo repository.ArtifactRepository
	storage      storage.Storage
	gate         *AccessGate
	observer     metrics.Observer

	now   func() time.Time
	newID func() (string, error)
}

func NewArtifactService(artifactRepo repository.ArtifactRepository, storage storage.Storage, gate *AccessGate, observer metrics.Observer) *ArtifactService {
	return &ArtifactService{
		artifactRepo: artifactRepo,
		storage:      storage,
		gate:         gate,
		observer:     observer,
		now:          time.Now,
		newID:        newArtifactID,
	}
}

// Create renders the kickstart file, builds the floppy and stores it for
// allowedIP. The record is only inserted once the image is saved, and a
// saved image is removed again if the insert fails.
func (s *ArtifactService) Create(params kickstart.Params, allowedIP string) (*model.Artifact, error) {
	artifact, err := s.create(params, allowedIP)
	if err != nil {
		s.observer.ArtifactCreated(metrics.ResultError)
		return nil, err
	}
	s.observer.ArtifactCreated(metrics.ResultOK)
	slog.Info("artifact created", "id", artifact.ID, "allowed_ip", artifact.AllowedIP, "expires_at", artifact.ExpiresAt)
	return artifact, nil
}

func (s *ArtifactService) create(params kickstart.Params, allowedIP string) (*model.Artifact, error) {
	img, err := fatimg.Build(KickstartFilename, []byte(kickstart.Render(params)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageBuild, err)
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, err
		}

		err = s.storage.Save(id, bytes.NewReader(img))
		if errors.Is(err, storage.ErrExist) {
			slog.Warn("artifact id collision in storage, retrying", "id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save image: %w", err)
		}

		now := s.now().UTC().Truncate(time.Second)
		artifact := &model.Artifact{
			ID:          id,
			AllowedIP:   allowedIP,
			StoragePath: id,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ArtifactTTL),
		}

		err = s.artifactRepo.Create(artifact)
		if err == nil {
			return artifact, nil
		}

		// The image is ours; remove it so no file outlives a missing record.
		if delErr := s.storage.Delete(id); delErr != nil {
			slog.Error("failed to delete image during cleanup", "error", delErr, "id", id)
		}
		if errors.Is(err, repository.ErrDuplicateID) {
			slog.Warn("artifact id collision in store, retrying", "id", id, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("failed to create artifact record: %w", err)
	}

	return nil, ErrIDExhausted
}

// Open returns the artifact and its image if requesterIP may fetch it.
// Artifacts remain retrievable after expiry until the reaper removes
// them. The caller closes the reader.
func (s *ArtifactService) Open(id, requesterIP string) (*model.Artifact, io.ReadCloser, error) {
	artifact, err := s.artifactRepo.ByID(id)
	if errors.Is(err, repository.ErrArtifactNotFound) {
		s.observer.ArtifactRetrieved(metrics.ResultNotFound)
		return nil, nil, ErrArtifactNotFound
	}
	if err != nil {
		s.observer.ArtifactRetrieved(metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if !s.gate.AllowRetrieve(artifact, requesterIP) {
		s.observer.ArtifactRetrieved(metrics.ResultUnauthorized)
		slog.Warn("artifact retrieval rejected", "id", id, "requester", requesterIP)
		return nil, nil, ErrForbidden
	}

	rc, err := s.storage.Open(artifact.StoragePath)
	if errors.Is(err, storage.ErrNotExist) {
		s.observer.ArtifactRetrieved(metrics.ResultNotFound)
		return nil, nil, ErrArtifactNotFound
	}
	if err != nil {
		s.observer.ArtifactRetrieved(metrics.ResultError)
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}

	s.observer.ArtifactRetrieved(metrics.ResultOK)
	slog.Info("serving artifact", "id", id, "requester", requesterIP, "pending_reap", artifact.IsExpired(s.now()))
	return artifact, rc, nil
}
