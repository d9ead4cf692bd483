// Package sweeper periodically purges expired links.
package sweeper

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streamlink/internal/metrics"
)

// DefaultInterval is the period between sweeps when none is configured.
const DefaultInterval = 30 * time.Minute

// Sweepable is the part of the link service the sweeper drives.
type Sweepable interface {
	Sweep(ctx context.Context) (int64, error)
}

// Sweeper runs Sweep once at start and then every interval until Stop.
// A failing or panicking sweep is logged and the schedule continues.
type Sweeper struct {
	cron     *cron.Cron
	links    Sweepable
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	job    cron.Job
	wg     sync.WaitGroup
}

// New builds a Sweeper. A sweep that runs past interval is cancelled, and a tick that
// arrives while the previous sweep is still running is skipped.
func New(links Sweepable, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	log = log.With("component", "sweeper")
	clog := cronLogger{log: log}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(recoverJob(log), cron.SkipIfStillRunning(clog)),
		),
		links:    links,
		interval: interval,
		timeout:  interval,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.job = cron.NewChain(recoverJob(log)).Then(sweepJob{s: s})
	s.cron.Schedule(cron.Every(interval), sweepJob{s: s})
	return s
}

// Start runs an immediate sweep in the background and starts the schedule.
func (s *Sweeper) Start() {
	s.log.Info("sweeper_started", "interval_sec", int64(s.interval/time.Second))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
	s.cron.Start()
}

// Stop cancels any in-flight sweep and waits for it to return or for ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("sweeper_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single bounded sweep and reports how many links were removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	removed, err := s.links.Sweep(ctx)
	s.metrics.SweepFinished(removed, err)
	if err != nil {
		s.log.Error("sweep_failed", "removed", removed, "error", err.Error())
		return removed, err
	}
	s.log.Info("sweep_finished", "removed", removed, "duration_ms", time.Since(start).Milliseconds())
	return removed, nil
}

type sweepJob struct {
	s *Sweeper
}

func (j sweepJob) Name() string { return "expired_links" }

func (j sweepJob) Run() {
	if j.s.ctx.Err() != nil {
		return
	}
	_, _ = j.s.RunOnce(j.s.ctx)
}

func recoverJob(log *slog.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("sweep_panicked", "panic", r, "stack_trace", string(debug.Stack()))
				}
			}()
			j.Run()
		})
	}
}

// cronLogger routes cron's own diagnostics into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err.Error())...)
}
