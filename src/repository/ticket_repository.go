package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetadmin/src/database"
	"fleetadmin/src/model"
)

// TicketRepository handles persistence of tickets created for tracked errors.
type TicketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a new repository instance using the main read/write database.
func NewTicketRepository() *TicketRepository {
	return &TicketRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TicketRepository) WithDB(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create inserts a new ticket. The given ticket is updated with the
// generated ID and timestamps.
func (r *TicketRepository) Create(
	ctx context.Context,
	ticket *model.Ticket,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "TicketRepository",
		"op":          "Create",
		"reference":   ticket.Reference,
		"priority":    ticket.Priority,
		"fingerprint": ticket.ErrorFingerprint,
	}).Info("Creating ticket")

	err := r.db.WithContext(ctx).Create(ticket).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TicketRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create ticket")

		return err
	}

	return nil
}

// Update applies a partial field update, e.g. external tracker back-references.
func (r *TicketRepository) Update(
	ctx context.Context,
	id uint,
	updates map[string]interface{},
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Ticket{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TicketRepository",
			"op":   "Update",
			"id":   id,
		}).WithError(err).Error("Failed to update ticket")

		return err
	}

	return nil
}
