package repository

import (
	"context"

	"golang-leverage-trader/internal/entity"

	"gorm.io/gorm"
)

type positionSnapshotRepository struct {
	db *gorm.DB
}

// NewPositionSnapshotRepository creates the gorm-backed snapshot store.
func NewPositionSnapshotRepository(db *gorm.DB) PositionSnapshotRepository {
	return &positionSnapshotRepository{db: db}
}

func (r *positionSnapshotRepository) Create(ctx context.Context, snapshot *entity.PositionSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *positionSnapshotRepository) ReadAll(ctx context.Context) ([]entity.PositionSnapshot, error) {
	var snapshots []entity.PositionSnapshot
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
