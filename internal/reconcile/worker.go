package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config tunes a Worker.
type Config struct {
	Interval    time.Duration // poll interval (default 30s)
	MaxAttempts int           // attempts before a job is abandoned (default 10)
	BatchSize   int           // jobs per poll (default 50)
	Timeout     time.Duration // per-call timeout (default 10s)

	// IsPermanent reports errors that no retry can fix; such jobs are
	// dropped immediately. nil treats every error as transient.
	IsPermanent func(error) bool
}

func (c *Config) defaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Job outcomes passed to the Worker's recorder.
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeAbandoned = "abandoned"
)

// Worker drains a Queue.
type Worker struct {
	queue      Queue
	reconciler Reconciler
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
	record     func(outcome string)
}

// NewWorker creates a Worker.
func NewWorker(q Queue, r Reconciler, cfg Config, logger *zap.Logger) *Worker {
	cfg.defaults()
	return &Worker{
		queue:      q,
		reconciler: r,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		record:     func(string) {},
	}
}

// SetRecorder registers a callback invoked once per processed job.
func (w *Worker) SetRecorder(fn func(outcome string)) {
	if fn != nil {
		w.record = fn
	}
}

// Run polls the queue every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("reconcile poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes every job that is due now and returns how many
// completed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.Due(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if w.process(ctx, j) {
			done++
		}
	}
	return done, nil
}

func (w *Worker) process(ctx context.Context, j *Job) bool {
	log := w.logger.With(
		zap.String("job_id", j.ID.String()),
		zap.String("enrollment_id", j.EnrollmentID.String()),
		zap.String("hash", j.Hash),
	)

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	err := w.reconciler.Reconcile(callCtx, j.EnrollmentID, j.ParticipantID, j.Hash)
	cancel()

	if err == nil {
		if rmErr := w.queue.Remove(ctx, j.ID); rmErr != nil {
			log.Warn("reconciled but could not remove job", zap.Error(rmErr))
		}
		log.Info("reconciliation completed", zap.Int("attempts", j.Attempts+1))
		w.record(OutcomeCompleted)
		return true
	}

	j.Attempts++
	j.LastError = err.Error()
	permanent := w.cfg.IsPermanent != nil && w.cfg.IsPermanent(err)
	if permanent || j.Attempts >= w.cfg.MaxAttempts {
		log.Error("reconcile job abandoned",
			zap.Int("attempts", j.Attempts),
			zap.Bool("permanent", permanent),
			zap.Error(err),
		)
		if rmErr := w.queue.Remove(ctx, j.ID); rmErr != nil {
			log.Warn("could not remove abandoned job", zap.Error(rmErr))
		}
		w.record(OutcomeAbandoned)
		return false
	}

	j.NextAttempt = w.now().Add(Backoff(j.Attempts))
	if upErr := w.queue.Update(ctx, j); upErr != nil {
		log.Warn("could not reschedule job", zap.Error(upErr))
	}
	log.Info("reconciliation failed; rescheduled",
		zap.Int("attempts", j.Attempts),
		zap.Time("next_attempt", j.NextAttempt),
		zap.Error(err),
	)
	w.record(OutcomeRetry)
	return false
}
