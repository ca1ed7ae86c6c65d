package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/baijum/kanakku-sub001/internal/extractor"
	"github.com/baijum/kanakku-sub001/internal/fetcher"
	"github.com/baijum/kanakku-sub001/internal/ledger"
	"github.com/baijum/kanakku-sub001/internal/metrics"
	"github.com/baijum/kanakku-sub001/internal/model"
	"github.com/baijum/kanakku-sub001/internal/queue"
)

// Store is the row-scoped persistence the worker needs: one user's
// mailbox configuration and the processed-message set.
type Store interface {
	ConfigByUserID(userID uint) (*model.MailboxConfig, error)
	UpdateLastCheck(userID uint, checkedAt time.Time) error
	SetLastError(userID uint, message string) error
	IsMessageProcessed(userID uint, messageID string) (bool, error)
	MarkMessageProcessed(userID uint, messageID string) error
}

// Vault decrypts stored mailbox credentials.
type Vault interface {
	Decrypt(encrypted string) (string, error)
}

// Config holds worker tuning parameters
type Config struct {
	JobTimeout     time.Duration
	OverlapMargin  time.Duration
	DefaultSenders []string
}

// Worker consumes mailbox check jobs and processes each to completion.
// Any number of workers may run concurrently against the same queue; the
// dedup store keeps redeliveries and overlapping runs idempotent.
type Worker struct {
	store     Store
	vault     Vault
	fetcher   fetcher.Fetcher
	extractor extractor.Extractor
	submitter ledger.Submitter
	queue     queue.Queue
	metrics   *metrics.Metrics
	config    Config

	now func() time.Time
}

// New creates a new worker
func New(store Store, vault Vault, f fetcher.Fetcher, e extractor.Extractor, s ledger.Submitter, q queue.Queue, m *metrics.Metrics, cfg Config) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Worker{
		store:     store,
		vault:     vault,
		fetcher:   f,
		extractor: e,
		submitter: s,
		queue:     q,
		metrics:   m,
		config:    cfg,
		now:       time.Now,
	}
}

// Run dequeues and processes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logrus.Info("Worker started, waiting for jobs")

	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logrus.Info("Worker stopping")
				return nil
			}
			logrus.Errorf("Failed to dequeue job: %v", err)
			continue
		}

		w.handleDelivery(ctx, delivery)
	}
}

// handleDelivery processes one delivery and settles it. Transient
// failures requeue the job; everything else acknowledges it.
func (w *Worker) handleDelivery(ctx context.Context, delivery queue.Delivery) {
	job := delivery.Job()
	start := w.now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	requeue, err := w.ProcessJob(jobCtx, job)
	if err != nil {
		logrus.Errorf("Job %s for user %d failed: %v", job.ID, job.UserID, err)
	}

	if requeue {
		w.metrics.JobsRequeued.Inc()
		if err := delivery.Requeue(); err != nil {
			logrus.Errorf("Failed to requeue job %s: %v", job.ID, err)
		}
		return
	}

	if ackErr := delivery.Ack(); ackErr != nil {
		logrus.Errorf("Failed to ack job %s: %v", job.ID, ackErr)
	}

	// Permanent failures ack too but do not count as processed.
	if err == nil {
		w.metrics.JobsProcessed.Inc()
	}
	w.metrics.JobDuration.Observe(w.now().Sub(start).Seconds())
}

// ProcessJob runs the pipeline for one user's job. It returns whether the
// job should be redelivered: true only for transient failures where no
// per-user state was mutated.
func (w *Worker) ProcessJob(ctx context.Context, job model.Job) (requeue bool, err error) {
	logrus.Infof("Processing job %s for user %d", job.ID, job.UserID)

	config, err := w.store.ConfigByUserID(job.UserID)
	if err != nil {
		return true, err
	}
	if config == nil || !config.IsEnabled {
		logrus.Infof("Skipping job %s: configuration missing or disabled for user %d", job.ID, job.UserID)
		w.metrics.JobsSkipped.Inc()
		return false, nil
	}

	password, err := w.vault.Decrypt(config.EncryptedPassword)
	if err != nil {
		// A bad credential will not fix itself; record it and ack so the
		// user can correct the configuration.
		logrus.Errorf("Failed to decrypt credentials for user %d: %v", job.UserID, err)
		if serr := w.store.SetLastError(job.UserID, "failed to decrypt mailbox credentials"); serr != nil {
			logrus.Errorf("Failed to record credential error for user %d: %v", job.UserID, serr)
		}
		return false, err
	}

	creds := fetcher.Credentials{
		Server:   config.IMAPServer,
		Port:     config.IMAPPort,
		Username: config.EmailAddress,
		Password: password,
	}

	windowEnd := w.now().UTC()
	var since time.Time
	if config.LastCheckTime != nil {
		// The overlap margin tolerates clock skew between this process
		// and the mail server.
		since = config.LastCheckTime.Add(-w.config.OverlapMargin)
	}

	senders := config.SenderAddresses(w.config.DefaultSenders)

	messages, err := w.fetcher.Fetch(ctx, creds, since, senders)
	if err != nil {
		// Transient: no state mutated yet, let the job redeliver.
		return true, err
	}
	w.metrics.MessagesFetched.Add(float64(len(messages)))

	logrus.Infof("Fetched %d candidate messages for user %d", len(messages), job.UserID)

	for _, msg := range messages {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if requeue, err := w.processMessage(ctx, config, msg); err != nil {
			if requeue {
				return true, err
			}
			logrus.Errorf("Error processing message %s for user %d: %v", msg.MessageID, job.UserID, err)
		}
	}

	if err := w.store.UpdateLastCheck(job.UserID, windowEnd); err != nil {
		return true, err
	}

	logrus.Infof("Job %s for user %d completed", job.ID, job.UserID)
	return false, nil
}

// processMessage handles one candidate message: dedup check, extraction,
// submission, and recording. Failures are isolated per message; only
// dedup store connectivity errors escalate to a job requeue.
func (w *Worker) processMessage(ctx context.Context, config *model.MailboxConfig, msg fetcher.RawMessage) (requeue bool, err error) {
	processed, err := w.store.IsMessageProcessed(config.UserID, msg.MessageID)
	if err != nil {
		return true, err
	}
	if processed {
		logrus.Debugf("Message %s already processed for user %d, skipping", msg.MessageID, config.UserID)
		w.metrics.DuplicatesSkipped.Inc()
		return false, nil
	}

	candidate, err := w.extractor.Extract(ctx, msg.Body, config.Samples())
	if err != nil {
		var exErr *extractor.ExtractionError
		if errors.As(err, &exErr) {
			// Unparseable content will not parse on retry either: record
			// the message as processed so it is never extracted again.
			w.metrics.ExtractionFailures.Inc()
			if merr := w.store.MarkMessageProcessed(config.UserID, msg.MessageID); merr != nil {
				logrus.Errorf("Failed to mark unparseable message %s: %v", msg.MessageID, merr)
			}
			return false, err
		}
		// Transport failure to the extraction endpoint: leave the message
		// unmarked so a later run retries it.
		return false, err
	}

	candidate.SourceMessageID = msg.MessageID

	result, err := w.submitter.Submit(ctx, candidate, config.UserID)
	if err != nil {
		// Not marked as processed: the ledger effect does not exist yet.
		w.metrics.SubmissionFailures.Inc()
		return false, err
	}

	if result == ledger.Conflict {
		logrus.Infof("Ledger already holds transaction for message %s (user %d)", msg.MessageID, config.UserID)
	} else {
		w.metrics.Submissions.Inc()
		logrus.Infof("Submitted transaction for message %s (user %d): %s %s %.2f",
			msg.MessageID, config.UserID, candidate.Payee, candidate.Currency, candidate.Amount)
	}

	// Recorded only after the ledger effect is durable. A crash right
	// here causes at most one duplicate-safe resubmission on redelivery.
	if err := w.store.MarkMessageProcessed(config.UserID, msg.MessageID); err != nil {
		logrus.Errorf("Failed to mark message %s as processed: %v", msg.MessageID, err)
	}

	return false, nil
}
