package repository

import (
	"context"

	"golang-leverage-trader/internal/entity"

	"gorm.io/gorm"
)

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates the gorm-backed append-only audit store.
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Append persists a new audit entry. Entries are never updated or deleted.
func (r *auditLogRepository) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ReadAll returns every persisted audit entry, newest first.
func (r *auditLogRepository) ReadAll(ctx context.Context) ([]entity.AuditLogEntry, error) {
	var entries []entity.AuditLogEntry
	if err := r.db.WithContext(ctx).Order("timestamp DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
