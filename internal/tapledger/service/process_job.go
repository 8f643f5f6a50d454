package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmrettig/tapledger/internal/tapledger/notify"
)

type JobState string

const (
	JobIdle            JobState = "idle"
	JobRunning         JobState = "running"
	JobSucceeded       JobState = "succeeded"
	JobFailedRetryable JobState = "failed_retryable"
	JobFailedTerminal  JobState = "failed_terminal"
)

// JobConfig holds the parameters for NewProcessingJob.
type JobConfig struct {
	// Interval is the recurring dispatch period.
	Interval time.Duration

	// MaxAttempts caps retries within one run. Defaults to 3.
	MaxAttempts int

	// Backoff holds the delays between attempts. The last entry repeats
	// if MaxAttempts exceeds its length. Defaults to 60s, 120s, 300s.
	Backoff []time.Duration

	// Recipients is the HR-manager role list for escalations.
	Recipients []string
}

// ProcessingJob wraps the reconciliation engine with operational
// hardening: scheduled dispatch, bounded retries with backoff, integrity
// escalation, and a terminal-failure notification. One run is a bounded
// unit of work; overlapping runs are impossible because the loop is a
// single goroutine and each cycle's claims are exclusive anyway.
type ProcessingJob struct {
	reconciler *ReconcileService
	notifier   notify.Notifier
	cfg        JobConfig
	logger     *zap.Logger

	// sleep is swapped out in tests so backoff is observable without
	// waiting on wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state JobState

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProcessingJob(rec *ReconcileService, notifier notify.Notifier, cfg JobConfig, logger *zap.Logger) *ProcessingJob {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &ProcessingJob{
		reconciler: rec,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
		state:      JobIdle,
		done:       make(chan struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start begins the recurring dispatch loop: an immediate run, then one per
// interval. The loop exits when ctx is cancelled or Stop is called.
func (j *ProcessingJob) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	go j.loop(ctx)

	j.logger.Info("ledger processing job started",
		zap.Duration("interval", j.cfg.Interval),
		zap.Int("max_attempts", j.cfg.MaxAttempts),
	)
}

// Stop signals the job to exit and waits for it to finish. A run in
// flight completes its current cycle first; cancellation lands between
// cycles, never mid-batch.
func (j *ProcessingJob) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	<-j.done
}

func (j *ProcessingJob) loop(ctx context.Context) {
	defer close(j.done)

	if _, err := j.RunOnce(ctx); err != nil && ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}

// State returns the job's current lifecycle state.
func (j *ProcessingJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *ProcessingJob) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// RunOnce executes one scheduled run: up to MaxAttempts reconciliation
// cycles with backoff between failures. Exported so an administrative
// trigger can force a run outside the schedule.
func (j *ProcessingJob) RunOnce(ctx context.Context) (ReconcileResult, error) {
	j.setState(JobRunning)

	var lastErr error
	for attempt := 1; attempt <= j.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		j.logger.Info("reconciliation cycle started", zap.Int("attempt", attempt))

		res, err := j.reconciler.ProcessLedgerEvents(ctx)
		if err == nil {
			j.logger.Info("reconciliation cycle finished",
				zap.Int("events_polled", res.PolledCount),
				zap.Int64("processing_time_ms", time.Since(start).Milliseconds()),
				zap.Int("events_created", res.Processing.EventsCreated),
				zap.Int("duplicates", res.Dedup.DuplicateCount),
				zap.Int("unresolved", res.Processing.UnresolvedCount),
			)

			// Integrity failures are not transient; they escalate even
			// though the cycle itself completed.
			if !res.Chain.IsValid {
				j.escalate(ctx, res)
			}

			j.setState(JobSucceeded)
			return res, nil
		}

		lastErr = err
		j.logger.Error("reconciliation cycle failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == j.cfg.MaxAttempts {
			break
		}

		j.setState(JobFailedRetryable)
		if serr := j.sleep(ctx, j.backoffFor(attempt)); serr != nil {
			j.setState(JobFailedTerminal)
			return ReconcileResult{}, lastErr
		}
		j.setState(JobRunning)
	}

	j.setState(JobFailedTerminal)
	j.failed(ctx, lastErr)
	return ReconcileResult{}, lastErr
}

func (j *ProcessingJob) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(j.cfg.Backoff) {
		idx = len(j.cfg.Backoff) - 1
	}
	return j.cfg.Backoff[idx]
}

// escalate reports a hash-chain failure at critical severity and pushes
// an administrator notification. Distinct from ordinary cycle errors:
// retrying cannot make tampered history whole again.
func (j *ProcessingJob) escalate(ctx context.Context, res ReconcileResult) {
	j.logger.Error("ledger integrity failure",
		zap.String("severity", string(notify.SeverityCritical)),
		zap.Int64s("failed_sequences", res.Chain.FailedSequences),
		zap.Any("gaps", res.Chain.Gaps),
	)

	n := notify.Notification{
		Severity:        notify.SeverityCritical,
		Message:         "hash chain validation failed; ledger rows flagged for manual review",
		FailedSequences: res.Chain.FailedSequences,
		Gaps:            res.Chain.Gaps,
		Recipients:      j.cfg.Recipients,
	}
	if err := j.notifier.Notify(ctx, n); err != nil {
		j.logger.Error("integrity notification failed", zap.Error(err))
	}
}

// failed runs once per run after the retry budget is exhausted.
func (j *ProcessingJob) failed(ctx context.Context, cause error) {
	j.logger.Error("ledger processing permanently failed for this run",
		zap.Int("attempts", j.cfg.MaxAttempts),
		zap.Error(cause),
	)

	n := notify.Notification{
		Severity:   notify.SeverityError,
		Message:    fmt.Sprintf("ledger processing failed after %d attempts: %v", j.cfg.MaxAttempts, cause),
		Recipients: j.cfg.Recipients,
	}
	if err := j.notifier.Notify(ctx, n); err != nil {
		j.logger.Error("terminal-failure notification failed", zap.Error(err))
	}
}
