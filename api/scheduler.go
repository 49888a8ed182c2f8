/*
scheduler.go - Periodic payment status sweep

PURPOSE:
  Periodically evaluates the status of every client with an active
  contract, logs the clients that are Due, and publishes the per-schedule
  count on the fees_clients_due gauge.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps once immediately on start
  - Evaluates as of the sweeper clock's date, like the handlers do
  - A client whose status cannot be evaluated is logged and skipped

USAGE:
  sweeper := NewStatusSweeper(handler)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: the same evaluation behind GET /api/clients
  - billing/status.go: StatusEngine
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fee-tracker/billing"
)

// StatusSweeper periodically evaluates every client's payment status.
type StatusSweeper struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	AsOf    billing.Date
	Checked int
	Due     map[billing.Schedule]int
	Failed  int
}

// NewStatusSweeper creates a sweeper with a one hour interval.
func NewStatusSweeper(handler *Handler) *StatusSweeper {
	return &StatusSweeper{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the sweeper.
func (s *StatusSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.Handler.Logger
	if !s.Enabled {
		logger.Info("status sweep disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	logger.Info("status sweep started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *StatusSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.Logger.Info("status sweep stopped")
	}
}

func (s *StatusSweeper) run() {
	defer s.wg.Done()

	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow sweeps immediately and returns the result.
func (s *StatusSweeper) RunNow(ctx context.Context) SweepResult {
	h := s.Handler
	result := SweepResult{
		AsOf: billing.DateOf(h.Now()),
		Due:  map[billing.Schedule]int{billing.ScheduleMonthly: 0, billing.ScheduleQuarterly: 0},
	}

	summaries, err := h.Store.ClientSummaries(ctx)
	if err != nil {
		h.Logger.Error("status sweep failed", zap.Error(err))
		return result
	}

	for _, summary := range summaries {
		report, err := h.report(summary, result.AsOf)
		if err != nil {
			result.Failed++
			h.Logger.Warn("status sweep skipped client",
				zap.Int64("client_id", int64(summary.Client.ID)), zap.Error(err))
			continue
		}
		if report == nil {
			continue
		}
		result.Checked++
		if report.Status != billing.StatusDue {
			continue
		}
		result.Due[summary.Contract.Schedule]++
		h.Logger.Info("client payment due",
			zap.Int64("client_id", int64(summary.Client.ID)),
			zap.String("client", summary.Client.DisplayName),
			zap.Strings("missing_periods", report.MissingPeriods),
			zap.Bool("never_paid", report.NeverPaid))
	}

	counts := make(map[string]int, len(result.Due))
	for schedule, n := range result.Due {
		counts[string(schedule)] = n
	}
	h.Metrics.SetClientsDue(counts)

	h.Logger.Info("status sweep completed",
		zap.String("as_of", result.AsOf.String()),
		zap.Int("checked", result.Checked),
		zap.Int("due_monthly", result.Due[billing.ScheduleMonthly]),
		zap.Int("due_quarterly", result.Due[billing.ScheduleQuarterly]),
		zap.Int("failed", result.Failed))
	return result
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *StatusSweeper) NextRunTime() time.Time {
	return s.Handler.Now().Add(s.CheckInterval)
}
