package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/baijum/kanakku-sub001/internal/config"
	"github.com/baijum/kanakku-sub001/internal/crypto"
	"github.com/baijum/kanakku-sub001/internal/database"
	"github.com/baijum/kanakku-sub001/internal/extractor"
	"github.com/baijum/kanakku-sub001/internal/fetcher"
	"github.com/baijum/kanakku-sub001/internal/handlers"
	"github.com/baijum/kanakku-sub001/internal/ledger"
	"github.com/baijum/kanakku-sub001/internal/metrics"
	"github.com/baijum/kanakku-sub001/internal/queue"
	"github.com/baijum/kanakku-sub001/internal/repository"
	"github.com/baijum/kanakku-sub001/internal/server"
	"github.com/baijum/kanakku-sub001/internal/worker"
)

func main() {
	queueName := flag.String("queue-name", "", "name of the job queue to consume (overrides configuration)")
	jobTimeout := flag.Duration("job-timeout", 0, "maximum processing time per job (overrides configuration)")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting mailbox check worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *queueName != "" {
		cfg.Queue.QueueName = *queueName
	}
	if *jobTimeout > 0 {
		cfg.Worker.JobTimeout = *jobTimeout
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	q, err := queue.NewAMQPQueue(cfg.Queue.URL, cfg.Queue.QueueName, cfg.Queue.Prefetch)
	if err != nil {
		logrus.Fatalf("Failed to connect to job queue: %v", err)
	}
	defer q.Close()

	m := metrics.NewMetrics()
	store := repository.New(db)
	vault := crypto.NewVault(cfg.Encryption.Key)
	var gmailFetcher fetcher.Fetcher
	if cfg.Gmail.ClientID != "" && cfg.Gmail.ClientSecret != "" {
		gmailFetcher = fetcher.NewGmailFetcher(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)
	}
	mailFetcher := fetcher.NewSelector(fetcher.NewIMAPFetcher(), gmailFetcher)
	llm := extractor.NewLLMExtractor(cfg.Extraction.Endpoint, cfg.Extraction.APIKey, cfg.Extraction.Model)
	submitter := ledger.NewAPIClient(cfg.Ledger.Endpoint, cfg.Ledger.APIKey, cfg.Ledger.DefaultCurrency)

	w := worker.New(store, vault, mailFetcher, llm, submitter, q, m, worker.Config{
		JobTimeout:     cfg.Worker.JobTimeout,
		OverlapMargin:  cfg.Worker.OverlapMargin,
		DefaultSenders: cfg.Worker.DefaultSenders,
	})

	h := handlers.NewHandlers(db, store, nil)
	router := server.SetupRouter(h, false)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down worker...")
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		logrus.Errorf("Worker error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Worker stopped gracefully")
}
