package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/baijum/kanakku-sub001/internal/model"
)

// Store provides row-scoped access to mailbox configurations and the
// processed-message deduplication set. All writes are single-row updates
// keyed by user_id, so workers on different users never contend.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnabledConfigs returns all mailbox configurations with automation
// enabled. Disabled rows are never scheduled.
func (s *Store) EnabledConfigs() ([]model.MailboxConfig, error) {
	var configs []model.MailboxConfig
	result := s.db.Where("is_enabled = ?", true).Find(&configs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get enabled configs: %w", result.Error)
	}
	return configs, nil
}

// ConfigByUserID returns the mailbox configuration for one user, or nil
// when none exists.
func (s *Store) ConfigByUserID(userID uint) (*model.MailboxConfig, error) {
	var config model.MailboxConfig
	result := s.db.Where("user_id = ?", userID).First(&config)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get config for user %d: %w", userID, result.Error)
	}
	return &config, nil
}

// UpdateLastCheck advances the user's last check position to the fetch
// window end and clears any recorded error.
func (s *Store) UpdateLastCheck(userID uint, checkedAt time.Time) error {
	result := s.db.Model(&model.MailboxConfig{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"last_check_time": checkedAt,
			"last_error":      nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update last check time for user %d: %w", userID, result.Error)
	}
	return nil
}

// SetLastError records a permanent per-user failure without touching the
// last check position.
func (s *Store) SetLastError(userID uint, message string) error {
	result := s.db.Model(&model.MailboxConfig{}).
		Where("user_id = ?", userID).
		Update("last_error", message)
	if result.Error != nil {
		return fmt.Errorf("failed to set last error for user %d: %w", userID, result.Error)
	}
	return nil
}

// IsMessageProcessed reports whether a message has already produced its
// ledger effect for this user.
func (s *Store) IsMessageProcessed(userID uint, messageID string) (bool, error) {
	var processed model.ProcessedMessage
	result := s.db.Where("user_id = ? AND message_id = ?", userID, messageID).First(&processed)
	if result.Error == nil {
		return true, nil
	}
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed message: %w", result.Error)
}

// MarkMessageProcessed records a message as processed. The insert ignores
// conflicts on (user_id, message_id) so redelivered jobs that race on the
// same message do not fail.
func (s *Store) MarkMessageProcessed(userID uint, messageID string) error {
	processed := model.ProcessedMessage{
		UserID:      userID,
		MessageID:   messageID,
		ProcessedAt: time.Now().UTC(),
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&processed)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message as processed: %w", result.Error)
	}
	return nil
}

// ProcessedCount returns the number of processed messages recorded for a
// user.
func (s *Store) ProcessedCount(userID uint) (int64, error) {
	var count int64
	result := s.db.Model(&model.ProcessedMessage{}).Where("user_id = ?", userID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count processed messages: %w", result.Error)
	}
	return count, nil
}
