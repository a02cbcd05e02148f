package repository

import (
	"context"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/aman-churiwal/chatguard/internal/storage"
)

type ReputationEventRepository struct {
	db *storage.Postgres
}

func NewReputationEventRepository(db *storage.Postgres) *ReputationEventRepository {
	return &ReputationEventRepository{db: db}
}

// Inserts events in one statement
func (r *ReputationEventRepository) CreateBatch(ctx context.Context, events []models.ReputationEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Newest first. An empty identifier lists events for everyone.
func (r *ReputationEventRepository) List(ctx context.Context, identifier string, limit int) ([]models.ReputationEvent, error) {
	var events []models.ReputationEvent

	query := r.db.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if identifier != "" {
		query = query.Where("identifier = ?", identifier)
	}

	err := query.Find(&events).Error
	return events, err
}
