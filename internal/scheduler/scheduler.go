package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/baijum/kanakku-sub001/internal/metrics"
	"github.com/baijum/kanakku-sub001/internal/model"
	"github.com/baijum/kanakku-sub001/internal/queue"
)

// Store lists the mailbox configurations eligible for scheduling.
type Store interface {
	EnabledConfigs() ([]model.MailboxConfig, error)
}

// Config holds scheduler tuning parameters
type Config struct {
	TickInterval time.Duration
	// InFlightTTL bounds how long an enqueued job suppresses further
	// enqueues for the same user; it should match the worker job timeout.
	InFlightTTL time.Duration
}

// Scheduler is a single control loop that periodically decides which
// mailboxes are due and enqueues one job per due user. All mailbox I/O
// happens in workers; the loop blocks only on short store and queue
// calls.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	config  Config
	store   Store
	queue   queue.Queue
	metrics *metrics.Metrics

	// inFlight tracks enqueued jobs per user. It is in-process state:
	// after a restart it re-derives from last_check_time, accepting at
	// most one duplicate enqueue, which worker dedup renders harmless.
	inFlight map[uint]inFlightEntry

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
	tickMu    sync.Mutex

	now func() time.Time
}

type inFlightEntry struct {
	jobID      string
	enqueuedAt time.Time
	expiresAt  time.Time
}

// New creates a new scheduler
func New(cfg Config, store Store, q queue.Queue, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.InFlightTTL <= 0 {
		cfg.InFlightTTL = 10 * time.Minute
	}

	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		config:   cfg,
		store:    store,
		queue:    q,
		metrics:  m,
		inFlight: make(map[uint]inFlightEntry),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	schedule := fmt.Sprintf("@every %ds", int(s.config.TickInterval.Seconds()))

	entryID, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with tick interval: %s", s.config.TickInterval)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce runs a scheduling tick once (for manual triggering)
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running scheduling tick once")
	s.tick()
	return nil
}

// GetNextRun returns the time of the next scheduled tick
func (s *Scheduler) GetNextRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last tick
func (s *Scheduler) GetLastRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for in-progress ticks to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// tick inspects all enabled configurations and enqueues a job for each
// due user. A store or queue error aborts the tick; the next tick
// retries.
func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	// A manual run-once can coincide with a cron tick; in-flight state is
	// only touched under this lock.
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.metrics.SchedulerTicks.Inc()

	configs, err := s.store.EnabledConfigs()
	if err != nil {
		logrus.Errorf("Tick aborted, failed to load configurations: %v", err)
		return
	}

	now := s.now().UTC()
	s.pruneInFlight(configs, now)

	enqueued := 0
	for _, config := range configs {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if !s.due(&config, now) {
			continue
		}

		if entry, ok := s.inFlight[config.UserID]; ok {
			logrus.Debugf("Skipping user %d, job %s already in flight", config.UserID, entry.jobID)
			continue
		}

		job := model.Job{
			ID:         uuid.NewString(),
			UserID:     config.UserID,
			EnqueuedAt: now,
		}

		if err := s.queue.Enqueue(s.ctx, job); err != nil {
			logrus.Errorf("Tick aborted, failed to enqueue job for user %d: %v", config.UserID, err)
			return
		}

		s.inFlight[config.UserID] = inFlightEntry{
			jobID:      job.ID,
			enqueuedAt: now,
			expiresAt:  now.Add(s.config.InFlightTTL),
		}
		s.metrics.JobsEnqueued.Inc()
		enqueued++

		logrus.Infof("Enqueued job %s for user %d", job.ID, config.UserID)
	}

	s.metrics.InFlightJobs.Set(float64(len(s.inFlight)))

	if enqueued > 0 {
		logrus.Infof("Tick complete, %d job(s) enqueued for %d enabled configuration(s)", enqueued, len(configs))
	}
}

// due reports whether a configuration's next run time has arrived. A null
// last check time means the mailbox has never been checked and is due
// immediately.
func (s *Scheduler) due(config *model.MailboxConfig, now time.Time) bool {
	if config.LastCheckTime == nil {
		return true
	}
	nextRun := config.LastCheckTime.Add(config.Interval())
	return !now.Before(nextRun)
}

// pruneInFlight clears entries whose job completed (the row's last check
// position advanced past the enqueue time) or whose visibility timeout
// elapsed.
func (s *Scheduler) pruneInFlight(configs []model.MailboxConfig, now time.Time) {
	lastChecks := make(map[uint]*time.Time, len(configs))
	for i := range configs {
		lastChecks[configs[i].UserID] = configs[i].LastCheckTime
	}

	for userID, entry := range s.inFlight {
		if now.After(entry.expiresAt) {
			delete(s.inFlight, userID)
			continue
		}
		if last, ok := lastChecks[userID]; ok && last != nil && last.After(entry.enqueuedAt) {
			delete(s.inFlight, userID)
		}
	}
}
