package store

import (
	"context"
	"time"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/models"
)

// StatusStore mirrors per-URL frontier state for outside observers.
type StatusStore interface {
	SetStatus(ctx context.Context, status models.URLStatus) error
	GetStatus(ctx context.Context, key string) (models.URLStatus, bool, error)
}

// StatusFromRecord converts a frontier record into its mirrored form.
func StatusFromRecord(rec frontier.Record, reason string) models.URLStatus {
	return models.URLStatus{
		Key:       rec.Key,
		URL:       rec.URL,
		State:     rec.State.String(),
		Attempts:  rec.Attempts,
		Error:     reason,
		UpdatedAt: time.Now().UTC(),
	}
}

// SaveRecord writes rec to s. A nil store is a no-op.
func SaveRecord(ctx context.Context, s StatusStore, rec frontier.Record, reason string) error {
	if s == nil {
		return nil
	}
	return s.SetStatus(ctx, StatusFromRecord(rec, reason))
}
