package fetcher

import (
	"context"
	"time"
)

// Credentials are one user's decrypted mailbox credentials, valid only for
// the duration of a single job. For the Gmail API fetcher the Password
// field carries the OAuth2 refresh token instead of an app password.
type Credentials struct {
	Server   string
	Port     int
	Username string
	Password string
}

// RawMessage is a fetched candidate message. MessageID is the
// protocol-level identifier used as the deduplication key.
type RawMessage struct {
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Body      string
}

// Fetcher lists candidate messages from the configured senders received
// since the given time. Implementations connect per call so that workers
// never share mailbox sessions.
type Fetcher interface {
	Fetch(ctx context.Context, creds Credentials, since time.Time, senders []string) ([]RawMessage, error)
}

// GmailAPIServer is the sentinel server value that routes a mailbox
// through the Gmail REST API instead of IMAP. Rows carrying it store an
// OAuth2 refresh token in place of an app password.
const GmailAPIServer = "gmail-api"

// Selector routes each fetch to the IMAP or Gmail implementation based
// on the configured server value.
type Selector struct {
	imap  Fetcher
	gmail Fetcher
}

// NewSelector creates a selector. A nil gmail fetcher routes everything
// through IMAP.
func NewSelector(imap, gmail Fetcher) *Selector {
	return &Selector{imap: imap, gmail: gmail}
}

func (s *Selector) Fetch(ctx context.Context, creds Credentials, since time.Time, senders []string) ([]RawMessage, error) {
	if creds.Server == GmailAPIServer && s.gmail != nil {
		return s.gmail.Fetch(ctx, creds, since, senders)
	}
	return s.imap.Fetch(ctx, creds, since, senders)
}

// matchesSender reports whether the message's From address is one of the
// configured sender addresses. An empty sender list matches everything.
func matchesSender(from string, senders []string) bool {
	if len(senders) == 0 {
		return true
	}
	for _, s := range senders {
		if s == from {
			return true
		}
	}
	return false
}
