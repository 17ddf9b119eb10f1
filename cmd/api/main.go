package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/database"
	"mail-dispatch-go/internal/handlers"
	"mail-dispatch-go/internal/mailbox"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/router"
	"mail-dispatch-go/internal/scheduler"
	"mail-dispatch-go/internal/sender"
	"mail-dispatch-go/internal/syncer"
	"mail-dispatch-go/internal/transport"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Mail Dispatch Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	repo := repository.New(db)
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Outbound delivery engine
	dial := transport.NewDialer(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
	})
	snd := sender.New(repo, dial, cfg.Queue, m, logrus.StandardLogger())

	sendPass := func() (int, int, error) {
		return snd.RunOnce(sender.Options{})
	}

	// Inbound sync pass: one mailbox session per pass so a dead IMAP
	// connection never survives into the next run.
	syncPass := func() (*syncer.Result, error) {
		mbox, err := mailbox.Connect(mailbox.Config{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			UseSSL:   cfg.IMAP.UseSSL,
			Folder:   cfg.IMAP.Folder,
		})
		if err != nil {
			return nil, err
		}
		defer mbox.Logout()

		s := syncer.New(mbox, repo, cfg.IMAP, cfg.Filters, m, logrus.StandardLogger())
		return s.Sync(syncer.Options{})
	}

	// Initialize scheduler
	sched := scheduler.NewScheduler(cfg.Scheduler, sendPass, syncPass)

	// Initialize HTTP handlers
	h := handlers.NewHandlers(db, repo, sched, m)

	// Setup HTTP server
	r := router.SetupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler and wait for in-flight passes
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
