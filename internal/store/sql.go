package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/xelth-com/chatrelay/internal/models"
)

// SQLBackend stores one row per message through GORM (PostgreSQL or SQLite).
type SQLBackend struct {
	db *gorm.DB
}

// NewSQLBackend migrates the message table and returns the backend.
func NewSQLBackend(db *gorm.DB) (*SQLBackend, error) {
	if err := db.AutoMigrate(&models.Message{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", models.Message{}.TableName(), err)
	}
	return &SQLBackend{db: db}, nil
}

// Load returns all rows ordered by id.
func (b *SQLBackend) Load(ctx context.Context) ([]models.Message, error) {
	var log []models.Message
	if err := b.db.WithContext(ctx).Order("id ASC").Find(&log).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return log, nil
}

// LastID returns the highest stored id, 0 for an empty table.
func (b *SQLBackend) LastID(ctx context.Context) (uint64, error) {
	var last uint64
	err := b.db.WithContext(ctx).Model(&models.Message{}).Select("COALESCE(MAX(id), 0)").Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("query last message id: %w", err)
	}
	return last, nil
}

// Persist inserts the appended row only.
func (b *SQLBackend) Persist(ctx context.Context, _ []models.Message, appended models.Message) error {
	if err := b.db.WithContext(ctx).Create(&appended).Error; err != nil {
		return fmt.Errorf("insert message %d: %w", appended.ID, err)
	}
	return nil
}
