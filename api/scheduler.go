/*
scheduler.go - Automated detection scheduler

PURPOSE:
  Periodically runs a detection pass over the stored employees so the
  advancement records follow the calendar without operator action.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Evaluates at the UTC calendar date of the scheduler clock
  - Serialisation with API-triggered runs is the engine's job

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewDetectionScheduler(engine, store, log)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

  // or, under an errgroup:
  g.Go(func() error { return scheduler.Run(gctx) })

SEE ALSO:
  - handlers.go: Detect endpoint (manual detection)
  - advancement/engine.go: Engine.DetectFrom
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/echelon-engine/advancement"
)

// Detector runs a detection pass. Implemented by *advancement.Engine.
type Detector interface {
	DetectFrom(ctx context.Context, src advancement.EmployeeSource, now time.Time) (*advancement.Report, error)
}

// DetectionScheduler handles automated detection runs.
type DetectionScheduler struct {
	Source   advancement.EmployeeSource
	Interval time.Duration
	Enabled  bool
	Clock    func() time.Time

	engine Detector
	log    zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex

	running bool
	last    *advancement.Report
}

// NewDetectionScheduler creates a new scheduler reading employees from src.
func NewDetectionScheduler(engine Detector, src advancement.EmployeeSource, log zerolog.Logger) *DetectionScheduler {
	return &DetectionScheduler{
		Source:   src,
		Interval: time.Hour,
		Enabled:  true,
		Clock:    time.Now,
		engine:   engine,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler. The loop also ends when ctx is cancelled.
func (ds *DetectionScheduler) Start(ctx context.Context) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if ds.running {
		return
	}

	ds.stop = make(chan struct{})
	ds.running = true
	ds.wg.Add(1)

	go ds.loop(ctx, ds.stop)

	ds.log.Info().Dur("interval", ds.Interval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ds *DetectionScheduler) Stop() {
	ds.mu.Lock()
	if !ds.running {
		ds.mu.Unlock()
		return
	}
	ds.running = false
	close(ds.stop)
	ds.mu.Unlock()

	ds.wg.Wait()
	ds.log.Info().Msg("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (ds *DetectionScheduler) Run(ctx context.Context) error {
	ds.Start(ctx)
	<-ctx.Done()
	ds.Stop()
	return nil
}

// RunNow performs a detection pass immediately.
func (ds *DetectionScheduler) RunNow(ctx context.Context) (*advancement.Report, error) {
	return ds.detect(ctx)
}

// LastReport returns the report of the last successful run, or nil.
func (ds *DetectionScheduler) LastReport() *advancement.Report {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.last
}

func (ds *DetectionScheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer ds.wg.Done()

	ticker := time.NewTicker(ds.Interval)
	defer ticker.Stop()

	// Run immediately on start
	ds.detect(ctx)

	for {
		select {
		case <-ticker.C:
			ds.detect(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ds *DetectionScheduler) detect(ctx context.Context) (*advancement.Report, error) {
	now := dateOf(ds.Clock())

	report, err := ds.engine.DetectFrom(ctx, ds.Source, now)
	if err != nil {
		ds.log.Error().Err(err).Time("now", now).Msg("scheduled detection failed")
		return report, err
	}

	for _, sk := range report.Skipped {
		ds.log.Warn().Str("employee_id", sk.EmployeeID).Str("reason", sk.Reason).Msg("employee skipped")
	}
	ds.log.Info().Str("run_id", report.RunID).Msg(report.Summary())

	ds.mu.Lock()
	ds.last = report
	ds.mu.Unlock()

	return report, nil
}
