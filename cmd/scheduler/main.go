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
	"github.com/baijum/kanakku-sub001/internal/database"
	"github.com/baijum/kanakku-sub001/internal/handlers"
	"github.com/baijum/kanakku-sub001/internal/metrics"
	"github.com/baijum/kanakku-sub001/internal/queue"
	"github.com/baijum/kanakku-sub001/internal/repository"
	"github.com/baijum/kanakku-sub001/internal/scheduler"
	"github.com/baijum/kanakku-sub001/internal/server"
)

func main() {
	tickSeconds := flag.Int("tick-interval", 0, "scheduling tick interval in seconds (overrides configuration)")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting mailbox check scheduler")

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *tickSeconds > 0 {
		cfg.Scheduler.TickSeconds = *tickSeconds
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

	sched := scheduler.New(scheduler.Config{
		TickInterval: time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		InFlightTTL:  cfg.Worker.JobTimeout,
	}, store, q, m)

	h := handlers.NewHandlers(db, store, sched)
	router := server.SetupRouter(h, true)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down scheduler...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Scheduler stopped gracefully")
}
