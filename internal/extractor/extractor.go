package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baijum/kanakku-sub001/internal/model"
)

// Extractor turns a message body into a transaction candidate, calibrated
// by the user's sample messages.
type Extractor interface {
	Extract(ctx context.Context, body string, samples []model.SampleMessage) (*model.TransactionCandidate, error)
}

// ExtractionError is a permanent per-message failure: the content will
// never parse successfully on retry either. The worker records such
// messages as processed instead of retrying them.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// LLMExtractor implements Extractor against a chat-completions endpoint.
type LLMExtractor struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewLLMExtractor creates a new LLM extractor. An empty model uses the
// provider's account default.
func NewLLMExtractor(endpoint, apiKey, llmModel string) *LLMExtractor {
	return &LLMExtractor{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    llmModel,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // LLM calls can be slow
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends the message body to the extraction endpoint and parses
// the structured candidate out of the response. Transport failures are
// returned as plain errors; content failures are *ExtractionError.
func (e *LLMExtractor) Extract(ctx context.Context, body string, samples []model.SampleMessage) (*model.TransactionCandidate, error) {
	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "user", Content: e.buildPrompt(body, samples)},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, &ExtractionError{Reason: "empty response from model"}
	}

	return ParseCandidate(apiResp.Choices[0].Message.Content)
}

// ParseCandidate parses a model response into a validated candidate.
func ParseCandidate(content string) (*model.TransactionCandidate, error) {
	cleaned := cleanJSONResponse(content)

	var candidate model.TransactionCandidate
	if err := json.Unmarshal([]byte(cleaned), &candidate); err != nil {
		return nil, &ExtractionError{Reason: "malformed JSON in model response", Err: err}
	}

	if !candidate.Valid() {
		return nil, &ExtractionError{Reason: "missing required transaction fields"}
	}

	return &candidate, nil
}

// cleanJSONResponse strips markdown fences and surrounding prose, leaving
// just the JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// buildPrompt builds the extraction prompt, with the user's sample
// messages as few-shot calibration context.
func (e *LLMExtractor) buildPrompt(body string, samples []model.SampleMessage) string {
	var b strings.Builder

	b.WriteString(`You are an AI that extracts structured bank transaction details from notification emails.

Analyze the given email and return a STRICT JSON object with these keys:

{
  "date": "",
  "payee": "",
  "amount": null,
  "currency": "",
  "account_mapping": ""
}

### FIELD DEFINITIONS

date
- Transaction date in ISO format: YYYY-MM-DD.

payee
- The merchant or counterparty of the transaction.

amount
- Numeric value only. No commas or currency symbols.

currency
- Infer from the text: INR, USD, EUR, GBP, etc. Empty string if unclear.

account_mapping
- The bank account identifier mentioned in the email (e.g. the masked
  account number), or empty string.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- All keys must exist. Use null or "" when a value is missing.
- Never invent payees; infer only from the text.
`)

	if len(samples) > 0 {
		b.WriteString("\n### EXAMPLES OF THIS USER'S BANK EMAILS\n")
		for i, s := range samples {
			fmt.Fprintf(&b, "\nExample %d:\nFrom: %s\nSubject: %s\n\n%s\n", i+1, s.From, s.Subject, s.Body)
		}
	}

	b.WriteString("\n### Now extract the transaction JSON from this email:\n\n")
	b.WriteString(body)

	return b.String()
}
