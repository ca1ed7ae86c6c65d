package fetcher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func gmailMessage(date string) *gmail.Message {
	return &gmail.Message{
		Id: "m1",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Axis Bank <alerts@axisbank.com>"},
				{Name: "Subject", Value: "Debit alert"},
				{Name: "Date", Value: date},
			},
			Body: &gmail.MessagePartBody{
				Data: base64.URLEncoding.EncodeToString([]byte("Rs 500 debited")),
			},
		},
	}
}

func TestGmailParseMessage(t *testing.T) {
	f := NewGmailFetcher("client-id", "client-secret")

	raw, err := f.parseMessage(gmailMessage("Mon, 02 Jun 2025 10:04:05 +0530"))
	assert.NoError(t, err)
	assert.Equal(t, "m1", raw.MessageID)
	assert.Equal(t, "alerts@axisbank.com", raw.From)
	assert.Equal(t, "Debit alert", raw.Subject)
	assert.Equal(t, "Rs 500 debited", raw.Body)
	assert.False(t, raw.Date.IsZero())
}

func TestGmailParseMessageDateVariants(t *testing.T) {
	f := NewGmailFetcher("client-id", "client-secret")

	dates := []string{
		"Mon, 02 Jun 2025 10:04:05 +0530",
		"Mon, 2 Jun 2025 10:04:05 +0530",
		"Mon, 02 Jun 2025 10:04:05 GMT",
		"Mon, 02 Jun 2025 10:04:05 +0000 (UTC)",
	}

	for _, d := range dates {
		raw, err := f.parseMessage(gmailMessage(d))
		assert.NoError(t, err)
		assert.False(t, raw.Date.IsZero(), "date %q should parse", d)
	}
}
