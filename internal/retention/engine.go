// Package retention computes record age against retention policies and
// purges expired records. Record states (active, expiring, expired) are
// derived from created_at and the policy at query time; only the purge itself
// changes stored state.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/savegress/medvault/pkg/models"
)

// Store is the record-store surface the engine needs. Each DeleteRecord call
// is its own transaction, which is what lets the purge tolerate per-record
// failures.
type Store interface {
	GetAllWithPolicies(ctx context.Context) ([]models.RetainedRecord, error)
	DeleteRecord(ctx context.Context, id int64) (bool, error)
}

// Engine evaluates retention policies over the record store.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates a retention engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// DaysStored returns the whole days a record has been stored, fraction
// truncated.
func DaysStored(rec models.PatientRecord, now time.Time) int {
	return int(now.Sub(rec.CreatedAt).Hours() / 24)
}

// IsExpired reports whether a record has outlived its retention period.
// A non-positive retention period falls back to the default.
func IsExpired(rec models.PatientRecord, policy models.RetentionPolicy, now time.Time) bool {
	return DaysUntilExpiry(rec, policy, now) < 0
}

// DaysUntilExpiry returns the days remaining before a record expires.
// Zero means the record expires today; negative means it is already expired.
func DaysUntilExpiry(rec models.PatientRecord, policy models.RetentionPolicy, now time.Time) int {
	days := policy.RetentionDays
	if days <= 0 {
		days = models.DefaultRetentionDays
	}
	return days - DaysStored(rec, now)
}

// ExpiringRecord is a record approaching its retention limit.
type ExpiringRecord struct {
	Record          models.PatientRecord `json:"record"`
	RetentionDays   int                  `json:"retention_days"`
	DaysStored      int                  `json:"days_stored"`
	DaysUntilExpiry int                  `json:"days_until_expiry"`
}

// ListExpiring returns records whose days-until-expiry is positive and at
// most thresholdDays, most urgent first. Already-expired records are
// excluded; they belong to PurgeExpired.
func (e *Engine) ListExpiring(ctx context.Context, thresholdDays int) ([]ExpiringRecord, error) {
	all, err := e.store.GetAllWithPolicies(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var expiring []ExpiringRecord
	for _, rr := range all {
		until := DaysUntilExpiry(rr.Record, rr.Policy, now)
		if until <= 0 || until > thresholdDays {
			continue
		}
		expiring = append(expiring, ExpiringRecord{
			Record:          rr.Record,
			RetentionDays:   rr.Policy.RetentionDays,
			DaysStored:      DaysStored(rr.Record, now),
			DaysUntilExpiry: until,
		})
	}
	sort.Slice(expiring, func(i, j int) bool {
		return expiring[i].DaysUntilExpiry < expiring[j].DaysUntilExpiry
	})
	return expiring, nil
}

// PurgeExpired deletes every expired record together with its policy. Each
// record is deleted in its own transaction, so one failing record cannot
// block cleanup of the rest; failures are joined into the returned error
// while the count and purged list reflect what actually went through.
// Idempotent: an immediate second run purges nothing.
func (e *Engine) PurgeExpired(ctx context.Context) (int, []models.PatientRecord, error) {
	all, err := e.store.GetAllWithPolicies(ctx)
	if err != nil {
		return 0, nil, err
	}

	now := e.now()
	var purged []models.PatientRecord
	var errs []error
	for _, rr := range all {
		if !IsExpired(rr.Record, rr.Policy, now) {
			continue
		}
		deleted, err := e.store.DeleteRecord(ctx, rr.Record.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("retention: purge record %d: %w", rr.Record.ID, err))
			continue
		}
		if deleted {
			purged = append(purged, rr.Record)
		}
	}
	return len(purged), purged, errors.Join(errs...)
}
