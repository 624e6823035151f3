package model

import (
	"time"
)

// Artifact is a rendered floppy image that a single address may fetch
// until it expires.
type Artifact struct {
	ID          string    `db:"id"` // e.g. "aB3dE6gH.img"
	AllowedIP   string    `db:"allowed_ip"`
	StoragePath string    `db:"storage_path"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// IsExpired reports whether the reaper may remove a at now. The expiry
// instant itself still counts as live.
func (a *Artifact) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
