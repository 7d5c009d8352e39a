// Package store defines the alert store the detector consults to recognise
// duplicates, resolutions and refires.
package store

import (
	"context"

	"github.com/miradorstack/mirador-correlator/internal/models"
)

// Store maps an alert id to its latest alert and an occurrence count. Every
// Put advances the count; Remove forgets the alert but never the count, so
// counts only grow for a given id.
type Store interface {
	// Get returns a nil alert when the id is absent; the count may still be
	// non-zero for an id that was removed.
	Get(ctx context.Context, id string) (*models.Alert, int, error)
	Put(ctx context.Context, alert *models.Alert) error
	Has(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context, id string) (int, error)
}
