// Command email-test enqueues one diagnostic message and pushes it through
// a delivery pass immediately, verifying the queue and the SMTP transport
// end to end.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/database"
	"mail-dispatch-go/internal/metrics"
	"mail-dispatch-go/internal/model"
	"mail-dispatch-go/internal/repository"
	"mail-dispatch-go/internal/sender"
	"mail-dispatch-go/internal/transport"
)

func main() {
	to := flag.String("to", "", "recipient address (required)")
	from := flag.String("from", "", "sender address (defaults to the SMTP username)")
	subject := flag.String("subject", "Mail dispatch test", "message subject")
	body := flag.String("body", "", "message body (defaults to a timestamped test body)")
	template := flag.String("template", "", "render the message from this template CID instead of -subject/-body")
	lang := flag.String("lang", "en", "template language")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})

	if *to == "" {
		fmt.Fprintln(os.Stderr, "usage: email-test -to recipient@example.com [-from ...] [-subject ...] [-body ...]")
		os.Exit(2)
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

	sendFrom := *from
	if sendFrom == "" {
		sendFrom = cfg.SMTP.Username
	}
	sendBody := *body
	if sendBody == "" {
		sendBody = fmt.Sprintf("Test message sent at %s", time.Now().Format(time.RFC3339))
	}

	repo := repository.New(db)

	var msg *model.EmailMessage
	if *template != "" {
		ctx := map[string]string{"to": *to, "date": time.Now().Format(time.RFC3339)}
		msg, err = repo.RenderTemplate(*template, 0, ctx, *lang)
		if err != nil {
			logrus.Fatalf("Failed to render template %s: %v", *template, err)
		}
		if msg == nil {
			logrus.Fatalf("Template %s does not exist", *template)
		}
		msg.ETo = *to
		if msg.EFrom == "" {
			msg.EFrom = sendFrom
		}
	} else {
		msg = &model.EmailMessage{
			EFrom:          sendFrom,
			ETo:            *to,
			Subject:        *subject,
			Body:           sendBody,
			ContentSubtype: model.ContentPlain,
		}
	}
	msg.Priority = 1

	if err := repo.Create(msg); err != nil {
		logrus.Fatalf("Failed to enqueue test message: %v", err)
	}
	logrus.Infof("Enqueued test message %d (tracking %s)", msg.ID, msg.UUID)

	dial := transport.NewDialer(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
	})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	snd := sender.New(repo, dial, cfg.Queue, m, logrus.StandardLogger())

	sent, failed, err := snd.RunOnce(sender.Options{SendNow: true, Verbose: true})
	if err != nil {
		logrus.Fatalf("Delivery pass failed: %v", err)
	}
	logrus.Infof("Delivery pass done: sent=%d failed=%d", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
