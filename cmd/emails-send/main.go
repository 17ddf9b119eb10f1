// Command emails-send runs outbound delivery passes: one pass by default,
// a continuous loop with -daemon, or a crash-recovery reset with -clear.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/database"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/sender"
	"mail-dispatch-go/internal/transport"
)

func main() {
	daemon := flag.Bool("daemon", false, "keep sending until interrupted")
	clear := flag.Bool("clear", false, "reset stranded in-flight markers and exit")
	all := flag.Bool("all", false, "ignore the bucket size")
	now := flag.Bool("now", false, "ignore the retry schedule")
	retryAll := flag.Bool("retry-all", false, "include messages past the retry ceiling")
	verbose := flag.Bool("verbose", false, "log per-message progress")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	repo := repository.New(db)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	dial := transport.NewDialer(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
	})
	snd := sender.New(repo, dial, cfg.Queue, m, logrus.StandardLogger())

	// Crash recovery: clearing returns stranded messages to the
	// schedulable pool, then the pass below picks them up again.
	if *clear {
		cleared, err := snd.Clear()
		if err != nil {
			logrus.Fatalf("Failed to clear in-flight markers: %v", err)
		}
		logrus.Infof("Cleared %d in-flight markers", cleared)
	}

	opts := sender.Options{
		SendAll:  *all,
		SendNow:  *now,
		RetryAll: *retryAll,
		Verbose:  *verbose,
	}

	if *daemon {
		ctx, cancel := context.WithCancel(context.Background())
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			cancel()
		}()

		snd.Run(ctx, 10*time.Second, opts)
		return
	}

	sent, failed, err := snd.RunOnce(opts)
	if err != nil {
		logrus.Fatalf("Delivery pass failed: %v", err)
	}
	logrus.Infof("Delivery pass done: sent=%d failed=%d", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
