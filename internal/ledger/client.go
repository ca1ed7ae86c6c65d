package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baijum/kanakku-sub001/internal/model"
)

// Result is the outcome of a ledger submission.
type Result int

const (
	// Accepted means the transaction was created.
	Accepted Result = iota
	// Conflict means the ledger already holds a transaction for this
	// message id. Treated as success by the worker: the effect exists.
	Conflict
)

// Submitter persists an extracted transaction through the external
// transaction API.
type Submitter interface {
	Submit(ctx context.Context, candidate *model.TransactionCandidate, userID uint) (Result, error)
}

// APIClient implements Submitter over the transaction HTTP API.
type APIClient struct {
	endpoint        string
	apiKey          string
	defaultCurrency string
	httpClient      *http.Client
}

// NewAPIClient creates a new transaction API client
func NewAPIClient(endpoint, apiKey, defaultCurrency string) *APIClient {
	return &APIClient{
		endpoint:        endpoint,
		apiKey:          apiKey,
		defaultCurrency: defaultCurrency,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type transactionPayload struct {
	UserID          uint    `json:"user_id"`
	Date            string  `json:"date"`
	Payee           string  `json:"payee"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	AccountMapping  string  `json:"account_mapping"`
	SourceMessageID string  `json:"source_message_id"`
}

// Submit posts the candidate to the transaction API. 2xx maps to
// Accepted, 409 to Conflict, anything else is an error.
func (c *APIClient) Submit(ctx context.Context, candidate *model.TransactionCandidate, userID uint) (Result, error) {
	currency := candidate.Currency
	if currency == "" {
		currency = c.defaultCurrency
	}

	payload := transactionPayload{
		UserID:          userID,
		Date:            candidate.Date,
		Payee:           candidate.Payee,
		Amount:          candidate.Amount,
		Currency:        currency,
		AccountMapping:  candidate.AccountMapping,
		SourceMessageID: candidate.SourceMessageID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send transaction: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Accepted, nil
	case resp.StatusCode == http.StatusConflict:
		return Conflict, nil
	default:
		return 0, fmt.Errorf("transaction API error (status %d): %s", resp.StatusCode, string(respBody))
	}
}
