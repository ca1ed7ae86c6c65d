package model

// TransactionCandidate is the structured result of extracting one message.
// It lives only in memory: it either becomes a ledger transaction or is
// discarded.
type TransactionCandidate struct {
	Date            string  `json:"date"`
	Payee           string  `json:"payee"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	AccountMapping  string  `json:"account_mapping"`
	SourceMessageID string  `json:"source_message_id"`
}

// Valid reports whether the candidate carries the fields the ledger API
// requires. Currency may be empty; the submission client applies the
// configured default.
func (t *TransactionCandidate) Valid() bool {
	return t.Date != "" && t.Payee != "" && t.Amount > 0
}
