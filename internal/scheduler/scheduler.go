// Package scheduler drives the periodic delivery and ingestion passes
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/syncer"
)

// SendFunc performs one outbound delivery pass
type SendFunc func() (sent, failed int, err error)

// SyncFunc performs one inbound ingestion pass. Implementations own their
// mailbox session: each pass dials, syncs and logs out, so a dead IMAP
// connection never outlives one pass.
type SyncFunc func() (*syncer.Result, error)

// Scheduler manages the periodic send and sync jobs
type Scheduler struct {
	cron      *cron.Cron
	sendEntry cron.EntryID
	syncEntry cron.EntryID
	config    config.SchedulerConfig
	send      SendFunc
	sync      SyncFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg config.SchedulerConfig, send SendFunc, sync SyncFunc) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: cfg,
		send:   send,
		sync:   sync,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	sendSchedule := fmt.Sprintf("0 */%d * * * *", s.config.SendIntervalMinutes)
	sendEntry, err := s.cron.AddFunc(sendSchedule, s.runSend)
	if err != nil {
		return fmt.Errorf("failed to add send job: %w", err)
	}

	syncSchedule := fmt.Sprintf("0 */%d * * * *", s.config.SyncIntervalMinutes)
	syncEntry, err := s.cron.AddFunc(syncSchedule, s.runSync)
	if err != nil {
		return fmt.Errorf("failed to add sync job: %w", err)
	}

	s.sendEntry = sendEntry
	s.syncEntry = syncEntry
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started: send every %d min, sync every %d min",
		s.config.SendIntervalMinutes, s.config.SyncIntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits for in-flight jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

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

// runSend is the periodic outbound delivery job
func (s *Scheduler) runSend() {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	sent, failed, err := s.send()
	if err != nil {
		logrus.Errorf("Delivery pass failed: %v", err)
		return
	}
	if sent+failed > 0 {
		logrus.Infof("Delivery pass completed in %v: sent=%d failed=%d",
			time.Since(start), sent, failed)
	}
}

// runSync is the periodic inbound ingestion job
func (s *Scheduler) runSync() {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	res, err := s.sync()
	if err != nil {
		logrus.Errorf("Sync pass failed: %v", err)
		return
	}
	if res.Fetched > 0 {
		logrus.Infof("Sync pass completed in %v: created=%d overwritten=%d skipped=%d bounces=%d",
			time.Since(start), res.Created, res.Overwritten, res.Skipped, res.Bounces)
	}
}

// RunSendOnce triggers one delivery pass outside the schedule
func (s *Scheduler) RunSendOnce() (int, int, error) {
	return s.send()
}

// RunSyncOnce triggers one ingestion pass outside the schedule
func (s *Scheduler) RunSyncOnce() (*syncer.Result, error) {
	return s.sync()
}

// NextSend returns the time of the next scheduled delivery pass
func (s *Scheduler) NextSend() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.sendEntry).Next
}

// NextSync returns the time of the next scheduled ingestion pass
func (s *Scheduler) NextSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.syncEntry).Next
}

// Wait waits for in-flight jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
