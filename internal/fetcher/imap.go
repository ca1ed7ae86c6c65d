package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"
)

// IMAPFetcher implements Fetcher over IMAP. Each Fetch call dials, logs
// in, and logs out again: a job owns its mailbox session end to end.
type IMAPFetcher struct{}

// NewIMAPFetcher creates a new IMAP fetcher
func NewIMAPFetcher() *IMAPFetcher {
	return &IMAPFetcher{}
}

// Fetch lists messages in INBOX received since the given time from the
// configured senders.
func (f *IMAPFetcher) Fetch(ctx context.Context, creds Credentials, since time.Time, senders []string) ([]RawMessage, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.Server, creds.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		return []RawMessage{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var fetched []RawMessage

	for msg := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := f.parseMessage(msg, creds, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		// The SINCE search is date-granular; the sender filter runs
		// client-side against the envelope.
		if !matchesSender(raw.From, senders) {
			continue
		}
		fetched = append(fetched, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return fetched, nil
}

// parseMessage converts an IMAP message into a RawMessage
func (f *IMAPFetcher) parseMessage(msg *imap.Message, creds Credentials, section *imap.BodySectionName) (RawMessage, error) {
	raw := RawMessage{}

	if msg.Envelope != nil {
		raw.Subject = msg.Envelope.Subject
		raw.Date = msg.Envelope.Date
		raw.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			raw.From = msg.Envelope.From[0].Address()
		}
	}

	if raw.MessageID == "" {
		// Some servers omit Message-Id; fall back to a UID-scoped key so
		// deduplication still has a stable identifier.
		raw.MessageID = fmt.Sprintf("%d@%s", msg.Uid, creds.Username)
	}

	body, err := f.parseBody(msg, section)
	if err != nil {
		return raw, err
	}
	raw.Body = body

	return raw, nil
}

// parseBody extracts the text/plain part of the message body
func (f *IMAPFetcher) parseBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		var plain, html string
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				plain = string(content)
			} else if strings.Contains(contentType, "text/html") {
				html = string(content)
			}
		}
		if plain != "" {
			return plain, nil
		}
		return html, nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	return string(content), nil
}
