package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetadmin/src/database"
	"fleetadmin/src/model"
)

// TrackedErrorRepository handles persistence of deduplicated system errors.
type TrackedErrorRepository struct {
	db *gorm.DB
}

// NewTrackedErrorRepository creates a new repository instance using the main read/write database.
func NewTrackedErrorRepository() *TrackedErrorRepository {
	return &TrackedErrorRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TrackedErrorRepository) WithDB(db *gorm.DB) *TrackedErrorRepository {
	return &TrackedErrorRepository{db: db}
}

// Create inserts a new tracked error. The given record is updated with the
// generated ID and timestamps. A duplicate-key error from the partial unique
// index on (fingerprint, unresolved) is returned as gorm.ErrDuplicatedKey so
// the caller can fall back to merging into the winning row.
func (r *TrackedErrorRepository) Create(
	ctx context.Context,
	record *model.TrackedError,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "TrackedErrorRepository",
		"op":          "Create",
		"fingerprint": record.Fingerprint,
		"source":      record.ErrorSource,
		"severity":    record.Severity,
	}).Debug("Creating tracked error")

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "TrackedErrorRepository",
			"op":          "Create",
			"fingerprint": record.Fingerprint,
		}).WithError(err).Error("Failed to create tracked error")

		return err
	}

	return nil
}

// FindActiveByFingerprint fetches the unresolved record for a fingerprint
// whose last occurrence is after the given cutoff. Returns (nil, nil) when
// no such record exists; occurrences outside the window start fresh records.
func (r *TrackedErrorRepository) FindActiveByFingerprint(
	ctx context.Context,
	fingerprint string,
	since time.Time,
) (*model.TrackedError, error) {

	var record model.TrackedError

	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND resolved = ? AND last_occurrence > ?", fingerprint, false, since).
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "TrackedErrorRepository",
			"op":          "FindActiveByFingerprint",
			"fingerprint": fingerprint,
		}).WithError(err).Error("Failed to fetch tracked error by fingerprint")

		return nil, err
	}

	return &record, nil
}

// FindUnresolvedByFingerprint fetches the unresolved record for a
// fingerprint regardless of how long ago it last occurred. The partial
// unique index guarantees at most one such row. Returns (nil, nil) when
// none exists.
func (r *TrackedErrorRepository) FindUnresolvedByFingerprint(
	ctx context.Context,
	fingerprint string,
) (*model.TrackedError, error) {

	var record model.TrackedError

	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND resolved = ?", fingerprint, false).
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "TrackedErrorRepository",
			"op":          "FindUnresolvedByFingerprint",
			"fingerprint": fingerprint,
		}).WithError(err).Error("Failed to fetch unresolved error by fingerprint")

		return nil, err
	}

	return &record, nil
}

// RegisterRepeat applies a repeat occurrence to an existing record. The
// occurrence counter is incremented in SQL so concurrent repeats do not
// overwrite each other; the remaining fields come from the caller.
func (r *TrackedErrorRepository) RegisterRepeat(
	ctx context.Context,
	id uint,
	updates map[string]interface{},
) error {

	logger.WithFields(map[string]interface{}{
		"repo": "TrackedErrorRepository",
		"op":   "RegisterRepeat",
		"id":   id,
	}).Debug("Registering repeat occurrence")

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["occurrence_count"] = gorm.Expr("occurrence_count + ?", 1)

	err := r.db.WithContext(ctx).
		Model(&model.TrackedError{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TrackedErrorRepository",
			"op":   "RegisterRepeat",
			"id":   id,
		}).WithError(err).Error("Failed to register repeat occurrence")

		return err
	}

	return nil
}

// Update applies a partial field update to a tracked error.
func (r *TrackedErrorRepository) Update(
	ctx context.Context,
	id uint,
	updates map[string]interface{},
) error {

	err := r.db.WithContext(ctx).
		Model(&model.TrackedError{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TrackedErrorRepository",
			"op":   "Update",
			"id":   id,
		}).WithError(err).Error("Failed to update tracked error")

		return err
	}

	return nil
}

// FindByID fetches a single tracked error by its primary ID.
// Returns (nil, nil) if the record is not found.
func (r *TrackedErrorRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.TrackedError, error) {

	var record model.TrackedError

	err := r.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "TrackedErrorRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch tracked error by ID")

		return nil, err
	}

	return &record, nil
}

// ListUnresolved returns unresolved errors ordered from newest to oldest.
func (r *TrackedErrorRepository) ListUnresolved(
	ctx context.Context,
	limit int,
) ([]model.TrackedError, error) {

	if limit <= 0 {
		limit = 100
	}

	var records []model.TrackedError

	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("last_occurrence DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "TrackedErrorRepository",
			"op":    "ListUnresolved",
			"limit": limit,
		}).WithError(err).Error("Failed to list unresolved errors")

		return nil, err
	}

	return records, nil
}

// ListAll returns errors regardless of resolution state, newest first.
func (r *TrackedErrorRepository) ListAll(
	ctx context.Context,
	limit int,
) ([]model.TrackedError, error) {

	if limit <= 0 {
		limit = 100
	}

	var records []model.TrackedError

	err := r.db.WithContext(ctx).
		Order("last_occurrence DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "TrackedErrorRepository",
			"op":    "ListAll",
			"limit": limit,
		}).WithError(err).Error("Failed to list tracked errors")

		return nil, err
	}

	return records, nil
}

// Resolve marks an unresolved record as resolved by the given actor.
// Returns false when the record does not exist or was already resolved.
func (r *TrackedErrorRepository) Resolve(
	ctx context.Context,
	id uint,
	resolvedBy uint,
	resolvedAt time.Time,
) (bool, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "TrackedErrorRepository",
		"op":          "Resolve",
		"id":          id,
		"resolved_by": resolvedBy,
	}).Info("Resolving tracked error")

	result := r.db.WithContext(ctx).
		Model(&model.TrackedError{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": resolvedAt,
			"resolved_by": resolvedBy,
		})

	if result.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TrackedErrorRepository",
			"op":   "Resolve",
			"id":   id,
		}).WithError(result.Error).Error("Failed to resolve tracked error")

		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
