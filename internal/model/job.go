package model

import "time"

// Job is a queue entry identifying one user whose mailbox should be
// checked. Payloads carry only plain serializable values; all other state
// is re-derived from the MailboxConfig row by the worker.
type Job struct {
	ID         string    `json:"id"`
	UserID     uint      `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
