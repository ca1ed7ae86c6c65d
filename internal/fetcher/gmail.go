package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailFetcher implements Fetcher using the Gmail REST API. The OAuth2
// client identity is shared; the per-user refresh token arrives through
// the job's decrypted credentials.
type GmailFetcher struct {
	clientID     string
	clientSecret string
}

// NewGmailFetcher creates a new Gmail API fetcher
func NewGmailFetcher(clientID, clientSecret string) *GmailFetcher {
	return &GmailFetcher{clientID: clientID, clientSecret: clientSecret}
}

// Fetch lists messages received since the given time from the configured
// senders.
func (f *GmailFetcher) Fetch(ctx context.Context, creds Credentials, since time.Time, senders []string) ([]RawMessage, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: creds.Password}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	query := fmt.Sprintf("after:%d", since.Unix())
	if len(senders) > 0 {
		query = fmt.Sprintf("%s from:(%s)", query, strings.Join(senders, " OR "))
	}

	response, err := service.Users.Messages.List(creds.Username).Q(query).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var fetched []RawMessage

	for _, msg := range response.Messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		full, err := service.Users.Messages.Get(creds.Username, msg.Id).Format("full").Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		raw, err := f.parseMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}
		fetched = append(fetched, raw)
	}

	return fetched, nil
}

// parseMessage converts a Gmail API message into a RawMessage
func (f *GmailFetcher) parseMessage(msg *gmail.Message) (RawMessage, error) {
	raw := RawMessage{MessageID: msg.Id}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			raw.Subject = header.Value
		case "From":
			raw.From = parseAddress(header.Value)
		case "Date":
			// Header formats vary in the wild; mail.ParseDate covers the
			// RFC 5322 variants including trailing zone comments.
			if t, err := mail.ParseDate(header.Value); err == nil {
				raw.Date = t
			}
		}
	}

	if err := f.parseBody(msg.Payload, &raw); err != nil {
		return raw, err
	}

	return raw, nil
}

// parseBody recursively extracts text parts from the message payload
func (f *GmailFetcher) parseBody(part *gmail.MessagePart, raw *RawMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		if part.MimeType == "text/plain" || (part.MimeType == "text/html" && raw.Body == "") {
			raw.Body = string(data)
		}
	}

	for _, subPart := range part.Parts {
		if err := f.parseBody(subPart, raw); err != nil {
			return err
		}
	}

	return nil
}

// parseAddress strips an optional display name from an address header
// value, e.g. `Axis Bank <alerts@axisbank.com>` -> `alerts@axisbank.com`.
func parseAddress(value string) string {
	if start := strings.Index(value, "<"); start != -1 {
		if end := strings.Index(value[start:], ">"); end != -1 {
			return value[start+1 : start+end]
		}
	}
	return strings.TrimSpace(value)
}
