package model

import "time"

// ProcessedMessage records a message that has already produced its ledger
// effect (or permanently failed extraction) for a user. The composite
// unique index makes MarkMessageProcessed idempotent under job redelivery.
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_user_message"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_user_message"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
