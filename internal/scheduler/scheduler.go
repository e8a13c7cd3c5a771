package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/logger"
)

// Minimal internal interfaces so the scheduler can be unit tested with small
// fakes instead of the real worker and reconciler.

type drainRunner interface {
	DrainAllTenants(ctx context.Context) (*domain.DrainSummary, error)
}

type campaignReconciler interface {
	ReconcileCampaignStatuses(ctx context.Context) (int, error)
}

// Scheduler is the periodic trigger for the delivery pipeline: each tick
// drains every tenant's queue and then reconciles campaign statuses. An
// external cron can drive the same operations through the HTTP trigger
// endpoints; the built-in ticker just removes the need for one.
type Scheduler struct {
	worker     drainRunner
	reconciler campaignReconciler
	interval   time.Duration

	alertWebhook    string
	alertThreshold  int
	lastAlertSentAt time.Time

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt           time.Time
	messagesSent        int64
	campaignsReconciled int64
	runsCount           int64

	// Consecutive ticks in which no tenant managed to send anything while at
	// least one reported an error.
	consecutiveFailedRuns int
}

func NewScheduler(worker drainRunner, reconciler campaignReconciler, interval time.Duration) *Scheduler {
	return &Scheduler{
		worker:     worker,
		reconciler: reconciler,
		interval:   interval,
	}
}

func (s *Scheduler) ConfigureAlerts(webhookURL string, threshold int) {
	s.mu.Lock()
	s.alertWebhook = webhookURL
	s.alertThreshold = threshold
	s.mu.Unlock()
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting worker scheduler with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)

		case <-s.stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	alertWebhook := s.alertWebhook
	alertThreshold := s.alertThreshold
	s.mu.Unlock()

	logger.Infof("[Run #%d] Draining tenant queues at %s", runNumber, s.lastRunAt.Format(time.RFC3339))

	summary, err := s.worker.DrainAllTenants(ctx)
	if err != nil {
		logger.Errorf("[Run #%d] Drain failed: %v", runNumber, err)
		return
	}

	sent := 0
	errored := 0
	for _, result := range summary.Results {
		sent += result.Sent
		if len(result.Errors) > 0 {
			errored++
		}
	}

	reconciled, err := s.reconciler.ReconcileCampaignStatuses(ctx)
	if err != nil {
		logger.Errorf("[Run #%d] Campaign reconciliation failed: %v", runNumber, err)
	}

	s.mu.Lock()
	s.messagesSent += int64(sent)
	s.campaignsReconciled += int64(reconciled)

	if sent == 0 && errored > 0 {
		s.consecutiveFailedRuns++
		logger.Warnf("[Run #%d] No messages sent, %d tenants errored (consecutive: %d/%d)",
			runNumber, errored, s.consecutiveFailedRuns, alertThreshold)

		if s.consecutiveFailedRuns >= alertThreshold && alertThreshold > 0 && alertWebhook != "" {
			go s.sendAlert(alertWebhook, runNumber, s.consecutiveFailedRuns, errored)
		}
	} else {
		s.consecutiveFailedRuns = 0
	}
	s.mu.Unlock()

	logger.Infof("[Run #%d] %d tenants, %d sent, %d tenants errored, %d campaigns reconciled",
		runNumber, summary.Tenants, sent, errored, reconciled)
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:               s.running,
		LastRunAt:             s.lastRunAt,
		MessagesSent:          s.messagesSent,
		CampaignsReconciled:   s.campaignsReconciled,
		RunsCount:             s.runsCount,
		Interval:              s.interval,
		ConsecutiveFailedRuns: s.consecutiveFailedRuns,
		LastAlertSentAt:       s.lastAlertSentAt,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

func (s *Scheduler) sendAlert(webhookURL string, runNumber int64, consecutiveFailures, tenantsErrored int) {
	alertPayload := map[string]any{
		"alert":               "delivery_stalled",
		"runNumber":           runNumber,
		"consecutiveFailures": consecutiveFailures,
		"tenantsErrored":      tenantsErrored,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"No messages delivered for %d consecutive runs (%d tenants erroring)",
			consecutiveFailures,
			tenantsErrored,
		),
	}

	jsonData, err := json.Marshal(alertPayload)
	if err != nil {
		logger.Errorf("Failed to marshal alert payload: %v", err)
		return
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("Failed to close alert webhook response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent to %s (consecutive failed runs: %d)", webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("Alert webhook returned status %d", resp.StatusCode)
	}
}

type SchedulerStatus struct {
	Running               bool          `json:"running"`
	LastRunAt             time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt             time.Time     `json:"nextRunAt,omitempty"`
	MessagesSent          int64         `json:"messagesSent"`
	CampaignsReconciled   int64         `json:"campaignsReconciled"`
	RunsCount             int64         `json:"runsCount"`
	Interval              time.Duration `json:"interval"`
	ConsecutiveFailedRuns int           `json:"consecutiveFailedRuns"`
	LastAlertSentAt       time.Time     `json:"lastAlertSentAt,omitempty"`
}
