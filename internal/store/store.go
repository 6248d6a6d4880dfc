// Package store defines the persistence adapter boundary. The pipeline
// never touches the device table directly; everything goes through Upsert
// and the read-only lookups so per-device serialization and the audit trail
// cannot be bypassed.
package store

import (
	"context"

	"assetscope/internal/domain"
)

// Store is the transactional device store the pipeline talks to.
type Store interface {
	// Upsert applies one resolution action and returns the affected device
	// id ("" for FlagForReview). Safe to call concurrently for different
	// devices; concurrent actions against the same device are serialized.
	// Every mutation of an existing record appends audit entries.
	Upsert(ctx context.Context, action domain.ResolutionAction) (string, error)

	// LookupCandidates returns devices matching any populated identity key
	// exactly, using the store's indexes.
	LookupCandidates(ctx context.Context, keys domain.IdentityKeys) ([]domain.DeviceRecord, error)

	// GetDevice fetches one record, nil when absent.
	GetDevice(ctx context.Context, id string) (*domain.DeviceRecord, error)

	// ListDevices returns every record, ordered by first_seen.
	ListDevices(ctx context.Context) ([]domain.DeviceRecord, error)

	// AuditTrail returns a device's change history, oldest first.
	AuditTrail(ctx context.Context, deviceID string) ([]domain.AuditEntry, error)

	// PendingReviews returns unresolved FlagForReview entries with their
	// conflicting fields and candidate confidence contributions.
	PendingReviews(ctx context.Context) ([]domain.ReviewEntry, error)

	// ResolveReview marks a review entry handled.
	ResolveReview(ctx context.Context, id int64) error

	// Remove deletes a device. This is an explicit administrative
	// operation, never invoked by resolution, and it is always audited.
	Remove(ctx context.Context, deviceID, reason, passID string) error

	Close() error
}
