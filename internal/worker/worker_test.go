package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/baijum/kanakku-sub001/internal/extractor"
	"github.com/baijum/kanakku-sub001/internal/fetcher"
	"github.com/baijum/kanakku-sub001/internal/ledger"
	"github.com/baijum/kanakku-sub001/internal/metrics"
	"github.com/baijum/kanakku-sub001/internal/model"
)

// Shared across tests: promauto registers on the default registry and a
// second NewMetrics in the same process would panic.
var testMetrics = metrics.NewMetrics()

type fakeStore struct {
	mu         sync.Mutex
	configs    map[uint]*model.MailboxConfig
	processed  map[string]bool
	lastErrors map[uint]string
	failOnMark bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		configs:    make(map[uint]*model.MailboxConfig),
		processed:  make(map[string]bool),
		lastErrors: make(map[uint]string),
	}
}

func (s *fakeStore) ConfigByUserID(userID uint) (*model.MailboxConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[userID], nil
}

func (s *fakeStore) UpdateLastCheck(userID uint, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[userID]; ok {
		t := checkedAt
		c.LastCheckTime = &t
	}
	delete(s.lastErrors, userID)
	return nil
}

func (s *fakeStore) SetLastError(userID uint, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErrors[userID] = message
	return nil
}

func (s *fakeStore) IsMessageProcessed(userID uint, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[fmt.Sprintf("%d:%s", userID, messageID)], nil
}

func (s *fakeStore) MarkMessageProcessed(userID uint, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnMark {
		return errors.New("dedup store write failed")
	}
	s.processed[fmt.Sprintf("%d:%s", userID, messageID)] = true
	return nil
}

type fakeVault struct {
	err error
}

func (v *fakeVault) Decrypt(encrypted string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return "decrypted-" + encrypted, nil
}

type fakeFetcher struct {
	messages []fetcher.RawMessage
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, creds fetcher.Credentials, since time.Time, senders []string) ([]fetcher.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeExtractor struct {
	failFor   map[string]error
	candidate *model.TransactionCandidate
}

func (e *fakeExtractor) Extract(ctx context.Context, body string, samples []model.SampleMessage) (*model.TransactionCandidate, error) {
	if err, ok := e.failFor[body]; ok {
		return nil, err
	}
	if e.candidate != nil {
		c := *e.candidate
		return &c, nil
	}
	return &model.TransactionCandidate{
		Date:     "2024-05-01",
		Payee:    "Test Merchant",
		Amount:   125.50,
		Currency: "INR",
	}, nil
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submissions map[string]int
	err         error
	conflictFor map[string]bool
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{submissions: make(map[string]int), conflictFor: make(map[string]bool)}
}

func (s *fakeSubmitter) Submit(ctx context.Context, candidate *model.TransactionCandidate, userID uint) (ledger.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.submissions[candidate.SourceMessageID]++
	if s.conflictFor[candidate.SourceMessageID] {
		return ledger.Conflict, nil
	}
	return ledger.Accepted, nil
}

type fakeDelivery struct {
	job      model.Job
	acked    bool
	requeued bool
}

func (d *fakeDelivery) Job() model.Job { return d.job }
func (d *fakeDelivery) Ack() error     { d.acked = true; return nil }
func (d *fakeDelivery) Requeue() error { d.requeued = true; return nil }

func enabledConfig(userID uint) *model.MailboxConfig {
	return &model.MailboxConfig{
		UserID:            userID,
		EmailAddress:      "user@example.com",
		IMAPServer:        "imap.example.com",
		IMAPPort:          993,
		EncryptedPassword: "secret",
		PollingInterval:   model.IntervalHourly,
		IsEnabled:         true,
	}
}

func rawMessage(id string) fetcher.RawMessage {
	return fetcher.RawMessage{
		MessageID: id,
		From:      "alerts@axisbank.com",
		Subject:   "Transaction alert",
		Date:      time.Now(),
		Body:      "body-" + id,
	}
}

func newTestWorker(store *fakeStore, vault Vault, f fetcher.Fetcher, e extractor.Extractor, s ledger.Submitter) *Worker {
	return New(store, vault, f, e, s, nil, testMetrics, Config{
		JobTimeout:     time.Minute,
		OverlapMargin:  5 * time.Minute,
		DefaultSenders: []string{"alerts@axisbank.com"},
	})
}

func TestJobIdempotencyUnderRedelivery(t *testing.T) {
	store := newFakeStore()
	store.configs[1] = enabledConfig(1)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1"), rawMessage("m2")}}
	sub := newFakeSubmitter()
	w := newTestWorker(store, &fakeVault{}, f, &fakeExtractor{}, sub)

	job := model.Job{ID: "job-1", UserID: 1, EnqueuedAt: time.Now()}

	requeue, err := w.ProcessJob(context.Background(), job)
	assert.NoError(t, err)
	assert.False(t, requeue)

	// Simulate redelivery of the same job.
	requeue, err = w.ProcessJob(context.Background(), job)
	assert.NoError(t, err)
	assert.False(t, requeue)

	assert.Equal(t, 1, sub.submissions["m1"], "message m1 must be submitted exactly once")
	assert.Equal(t, 1, sub.submissions["m2"], "message m2 must be submitted exactly once")
}

func TestNoPrematureMarkingOnSubmitFailure(t *testing.T) {
	store := newFakeStore()
	store.configs[2] = enabledConfig(2)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1")}}
	sub := newFakeSubmitter()
	sub.err = errors.New("ledger unavailable")
	w := newTestWorker(store, &fakeVault{}, f, &fakeExtractor{}, sub)

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-2", UserID: 2})
	assert.NoError(t, err)
	assert.False(t, requeue)

	processed, _ := store.IsMessageProcessed(2, "m1")
	assert.False(t, processed, "message must not be marked processed when submission failed")
}

func TestPerMessageIsolation(t *testing.T) {
	store := newFakeStore()
	store.configs[3] = enabledConfig(3)

	var messages []fetcher.RawMessage
	for i := 1; i <= 5; i++ {
		messages = append(messages, rawMessage(fmt.Sprintf("m%d", i)))
	}
	f := &fakeFetcher{messages: messages}
	e := &fakeExtractor{failFor: map[string]error{
		"body-m3": &extractor.ExtractionError{Reason: "malformed JSON in model response"},
	}}
	sub := newFakeSubmitter()
	w := newTestWorker(store, &fakeVault{}, f, e, sub)

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-3", UserID: 3})
	assert.NoError(t, err)
	assert.False(t, requeue)

	for _, id := range []string{"m1", "m2", "m4", "m5"} {
		assert.Equal(t, 1, sub.submissions[id], "message %s should be submitted", id)
		processed, _ := store.IsMessageProcessed(3, id)
		assert.True(t, processed, "message %s should be marked processed", id)
	}

	assert.Zero(t, sub.submissions["m3"], "unparseable message must not be submitted")
	processed, _ := store.IsMessageProcessed(3, "m3")
	assert.True(t, processed, "unparseable message is recorded so it is never retried")
}

func TestFirstRunScenario(t *testing.T) {
	store := newFakeStore()
	config := enabledConfig(7)
	config.PollingInterval = model.IntervalDaily
	config.LastCheckTime = nil
	prevErr := "old failure"
	config.LastError = &prevErr
	store.configs[7] = config
	store.lastErrors[7] = prevErr

	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1"), rawMessage("m2")}}
	sub := newFakeSubmitter()
	w := newTestWorker(store, &fakeVault{}, f, &fakeExtractor{}, sub)

	before := time.Now().UTC()
	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-7", UserID: 7})
	assert.NoError(t, err)
	assert.False(t, requeue)

	assert.NotNil(t, store.configs[7].LastCheckTime, "last check time must advance")
	assert.False(t, store.configs[7].LastCheckTime.Before(before))
	assert.Empty(t, store.lastErrors[7], "last error must be cleared")

	count := 0
	for _, id := range []string{"m1", "m2"} {
		if processed, _ := store.IsMessageProcessed(7, id); processed {
			count++
		}
	}
	assert.Equal(t, 2, count, "both messages should have processed records")
	assert.Equal(t, 1, sub.submissions["m1"])
	assert.Equal(t, 1, sub.submissions["m2"])
}

func TestBadCredentialsAckedWithLastError(t *testing.T) {
	store := newFakeStore()
	store.configs[4] = enabledConfig(4)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1")}}
	w := newTestWorker(store, &fakeVault{err: errors.New("decryption failed")}, f, &fakeExtractor{}, newFakeSubmitter())

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-4", UserID: 4})
	assert.Error(t, err)
	assert.False(t, requeue, "bad credentials will not fix themselves; the job must be acked")
	assert.NotEmpty(t, store.lastErrors[4])
	assert.Zero(t, f.calls, "no mailbox connection should be attempted")
}

func TestFetchFailureRequeues(t *testing.T) {
	store := newFakeStore()
	last := time.Now().Add(-2 * time.Hour)
	config := enabledConfig(5)
	config.LastCheckTime = &last
	store.configs[5] = config

	f := &fakeFetcher{err: errors.New("connection refused")}
	w := newTestWorker(store, &fakeVault{}, f, &fakeExtractor{}, newFakeSubmitter())

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-5", UserID: 5})
	assert.Error(t, err)
	assert.True(t, requeue, "transient connection failures must redeliver")
	assert.Equal(t, last.Unix(), store.configs[5].LastCheckTime.Unix(), "last check time must not advance on whole-job failure")
}

func TestMissingOrDisabledConfigSkipped(t *testing.T) {
	store := newFakeStore()
	disabled := enabledConfig(6)
	disabled.IsEnabled = false
	store.configs[6] = disabled

	w := newTestWorker(store, &fakeVault{}, &fakeFetcher{}, &fakeExtractor{}, newFakeSubmitter())

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-6", UserID: 6})
	assert.NoError(t, err)
	assert.False(t, requeue)

	requeue, err = w.ProcessJob(context.Background(), model.Job{ID: "job-9", UserID: 999})
	assert.NoError(t, err)
	assert.False(t, requeue)
}

func TestConflictTreatedAsProcessed(t *testing.T) {
	store := newFakeStore()
	store.configs[8] = enabledConfig(8)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1")}}
	sub := newFakeSubmitter()
	sub.conflictFor["m1"] = true
	w := newTestWorker(store, &fakeVault{}, f, &fakeExtractor{}, sub)

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-8", UserID: 8})
	assert.NoError(t, err)
	assert.False(t, requeue)

	processed, _ := store.IsMessageProcessed(8, "m1")
	assert.True(t, processed, "a conflict means the ledger effect already exists")
}

func TestUnclearCurrencyStillSubmitted(t *testing.T) {
	store := newFakeStore()
	store.configs[10] = enabledConfig(10)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1")}}
	e := &fakeExtractor{candidate: &model.TransactionCandidate{
		Date:   "2024-05-01",
		Payee:  "Corner Cafe",
		Amount: 99.00,
	}}
	sub := newFakeSubmitter()
	w := newTestWorker(store, &fakeVault{}, f, e, sub)

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-12", UserID: 10})
	assert.NoError(t, err)
	assert.False(t, requeue)

	assert.Equal(t, 1, sub.submissions["m1"], "a candidate without a currency is submitted; the ledger client defaults it")
	processed, _ := store.IsMessageProcessed(10, "m1")
	assert.True(t, processed)
}

func TestFailedJobAckedButNotCountedProcessed(t *testing.T) {
	store := newFakeStore()
	store.configs[11] = enabledConfig(11)
	w := newTestWorker(store, &fakeVault{err: errors.New("decryption failed")}, &fakeFetcher{}, &fakeExtractor{}, newFakeSubmitter())

	before := testutil.ToFloat64(testMetrics.JobsProcessed)
	d := &fakeDelivery{job: model.Job{ID: "job-13", UserID: 11}}
	w.handleDelivery(context.Background(), d)

	assert.True(t, d.acked)
	assert.False(t, d.requeued)
	assert.Equal(t, before, testutil.ToFloat64(testMetrics.JobsProcessed),
		"a permanently failed job is settled but not processed")
}

func TestCompletedJobCountedProcessed(t *testing.T) {
	store := newFakeStore()
	store.configs[12] = enabledConfig(12)
	w := newTestWorker(store, &fakeVault{}, &fakeFetcher{}, &fakeExtractor{}, newFakeSubmitter())

	before := testutil.ToFloat64(testMetrics.JobsProcessed)
	d := &fakeDelivery{job: model.Job{ID: "job-14", UserID: 12}}
	w.handleDelivery(context.Background(), d)

	assert.True(t, d.acked)
	assert.Equal(t, before+1, testutil.ToFloat64(testMetrics.JobsProcessed))
}

func TestExtractorTransportErrorLeavesMessageUnmarked(t *testing.T) {
	store := newFakeStore()
	store.configs[9] = enabledConfig(9)
	f := &fakeFetcher{messages: []fetcher.RawMessage{rawMessage("m1")}}
	e := &fakeExtractor{failFor: map[string]error{
		"body-m1": errors.New("extraction endpoint timeout"),
	}}
	sub := newFakeSubmitter()
	w := newTestWorker(store, &fakeVault{}, f, e, sub)

	requeue, err := w.ProcessJob(context.Background(), model.Job{ID: "job-10", UserID: 9})
	assert.NoError(t, err)
	assert.False(t, requeue)

	processed, _ := store.IsMessageProcessed(9, "m1")
	assert.False(t, processed, "a transport failure is not a permanent extraction failure")
	assert.Zero(t, sub.submissions["m1"])
}
