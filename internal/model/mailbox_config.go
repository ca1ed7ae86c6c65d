package model

import (
	"encoding/json"
	"time"
)

// Polling intervals supported by the scheduler.
const (
	IntervalHourly = "hourly"
	IntervalDaily  = "daily"
)

// MailboxConfig represents one user's email automation configuration.
// Rows are created and edited by the host application; the pipeline only
// updates LastCheckTime and LastError.
type MailboxConfig struct {
	ID                uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID            uint       `json:"user_id" gorm:"not null;uniqueIndex"`
	EmailAddress      string     `json:"email_address" gorm:"type:varchar(255);not null"`
	IMAPServer        string     `json:"imap_server" gorm:"type:varchar(255);default:imap.gmail.com"`
	IMAPPort          int        `json:"imap_port" gorm:"default:993"`
	EncryptedPassword string     `json:"-" gorm:"type:varchar(512);not null"`
	PollingInterval   string     `json:"polling_interval" gorm:"type:varchar(50);default:hourly"`
	IsEnabled         bool       `json:"is_enabled" gorm:"default:false"`
	LastCheckTime     *time.Time `json:"last_check_time"`
	LastError         *string    `json:"last_error" gorm:"type:text"`
	SampleMessages    string     `json:"sample_messages" gorm:"type:text"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for MailboxConfig
func (MailboxConfig) TableName() string {
	return "mailbox_configs"
}

// SampleMessage is one user-supplied example message used to calibrate
// extraction and to derive the bank sender list.
type SampleMessage struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Interval returns the polling interval as a duration. Unrecognized
// values fall back to hourly, matching the scheduler's behavior for
// legacy rows.
func (c *MailboxConfig) Interval() time.Duration {
	switch c.PollingInterval {
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Samples decodes the stored sample messages. A missing or malformed
// value yields an empty list rather than an error; calibration is
// best-effort.
func (c *MailboxConfig) Samples() []SampleMessage {
	if c.SampleMessages == "" {
		return nil
	}
	var samples []SampleMessage
	if err := json.Unmarshal([]byte(c.SampleMessages), &samples); err != nil {
		return nil
	}
	return samples
}

// SenderAddresses returns the sender addresses to fetch from. Addresses
// found in the sample messages take precedence over the configured
// defaults.
func (c *MailboxConfig) SenderAddresses(defaults []string) []string {
	seen := make(map[string]bool)
	var senders []string
	for _, s := range c.Samples() {
		if s.From == "" || seen[s.From] {
			continue
		}
		seen[s.From] = true
		senders = append(senders, s.From)
	}
	if len(senders) > 0 {
		return senders
	}
	return defaults
}
