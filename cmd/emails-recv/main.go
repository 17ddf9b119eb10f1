// Command emails-recv runs one inbound mailbox sync pass
package main

import (
	"flag"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/database"
	"mail-dispatch-go/internal/mailbox"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/syncer"
)

func main() {
	all := flag.Bool("all", false, "fetch the whole folder instead of the configured selector")
	imapID := flag.Uint("imap-id", 0, "fetch one message by IMAP server id")
	messageID := flag.String("message-id", "", "fetch one message by Message-ID")
	trackingID := flag.String("tracking-id", "", "keep only messages carrying this tracking token")
	rewrite := flag.Bool("rewrite", false, "overwrite already-ingested messages")
	silent := flag.Bool("silent", false, "suppress per-message logging")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})

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

	mbox, err := mailbox.Connect(mailbox.Config{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: cfg.IMAP.Password,
		UseSSL:   cfg.IMAP.UseSSL,
		Folder:   cfg.IMAP.Folder,
	})
	if err != nil {
		logrus.Fatalf("Failed to connect to mailbox: %v", err)
	}
	defer mbox.Logout()

	s := syncer.New(mbox, repo, cfg.IMAP, cfg.Filters, m, logrus.StandardLogger())
	if _, err := s.Sync(syncer.Options{
		IMAPID:     uint32(*imapID),
		MessageID:  *messageID,
		TrackingID: *trackingID,
		All:        *all,
		Rewrite:    *rewrite,
		Silent:     *silent,
	}); err != nil {
		logrus.Fatalf("Sync pass failed: %v", err)
	}
}
