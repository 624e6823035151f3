package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/model"
	"github.com/templui/kickstart/internal/repository"
	"github.com/templui/kickstart/internal/storage"
)

// DefaultReapInterval is used when no interval is configured.
const DefaultReapInterval = time.Minute

// Reaper removes expired artifacts, image first and record second, so an
// interrupted sweep can leave a record without an image but never an
// image without a record.
type Reaper struct {
	artifactRepo repository.ArtifactRepository
	storage      storage.Storage
	observer     metrics.Observer
	interval     time.Duration

	now func() time.Time
}

func NewReaper(artifactRepo repository.ArtifactRepository, storage storage.Storage, observer metrics.Observer, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		artifactRepo: artifactRepo,
		storage:      storage,
		observer:     observer,
		interval:     interval,
		now:          time.Now,
	}
}

// Start runs Tick every interval until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	slog.Info("reaper started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				slog.Error("reap failed", "error", err)
			}
		}
	}
}

// Tick removes every artifact that expired before now and returns the
// ones fully removed. Artifacts whose image could not be deleted keep
// their record and are retried on the next tick.
func (r *Reaper) Tick(ctx context.Context) ([]*model.Artifact, error) {
	expired, err := r.artifactRepo.Expired(r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired artifacts: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	slog.Info("expired artifacts found", "count", len(expired))

	var reaped []*model.Artifact
	failed := 0
	for _, a := range expired {
		if ctx.Err() != nil {
			break
		}

		err := r.storage.Delete(a.StoragePath)
		if err != nil && !errors.Is(err, storage.ErrNotExist) {
			slog.Error("failed to delete expired image", "error", err, "id", a.ID)
			failed++
			continue
		}

		if err := r.artifactRepo.Delete(a.ID); err != nil {
			slog.Error("failed to delete expired artifact record", "error", err, "id", a.ID)
			failed++
			continue
		}

		slog.Info("deleted expired artifact", "id", a.ID)
		reaped = append(reaped, a)
	}

	r.observer.ArtifactsReaped(len(reaped), failed)
	return reaped, ctx.Err()
}
