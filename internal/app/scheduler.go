package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// JobFunc is one run of a background job.
type JobFunc func(ctx context.Context) error

type scheduledJob struct {
	name     string
	interval time.Duration
	run      JobFunc
}

// Scheduler runs registered jobs on their own tickers. Runs of the same job
// never overlap: a tick that arrives while the previous run is in flight
// joins it instead of starting another.
type Scheduler struct {
	logger *common.Logger
	jobs   []scheduledJob
	group  singleflight.Group

	mu   sync.Mutex
	runs map[string]models.JobRun

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(logger *common.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		runs:   make(map[string]models.JobRun),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run JobFunc) {
	s.jobs = append(s.jobs, scheduledJob{name: name, interval: interval, run: run})
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// safeGo launches a goroutine with panic recovery and logging.
func (s *Scheduler) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in scheduler goroutine")
			}
		}()
		fn()
	}()
}

// Start launches one loop per job. Each job runs once immediately and then
// on every tick. Safe to call multiple times.
func (s *Scheduler) Start() {
	if s.cancel != nil {
		s.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, j := range s.jobs {
		s.safeGo(j.name, func() { s.loop(ctx, j) })
	}

	s.logger.Info().Strs("jobs", s.Jobs()).Msg("Scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, j scheduledJob) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// A run started before shutdown finishes with its own context.
	runCtx := context.WithoutCancel(ctx)
	s.Trigger(runCtx, j.name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger(runCtx, j.name)
		}
	}
}

// Trigger runs the named job now, or waits for the run already in flight.
// shared reports whether the result came from a run started elsewhere.
func (s *Scheduler) Trigger(ctx context.Context, name string) (shared bool, err error) {
	idx := slices.IndexFunc(s.jobs, func(j scheduledJob) bool { return j.name == name })
	if idx < 0 {
		return false, common.NotFound("job", name)
	}
	j := s.jobs[idx]

	_, err, shared = s.group.Do(name, func() (any, error) {
		return nil, s.execute(ctx, j)
	})
	return shared, err
}

// execute runs j once, converting a panic into an error, and records the outcome.
func (s *Scheduler) execute(ctx context.Context, j scheduledJob) (err error) {
	run := models.JobRun{Name: j.name, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
			s.logger.Error().Str("job", j.name).Str("stack", string(debug.Stack())).Msg("Recovered from panic in job")
		}
		run.FinishedAt = time.Now()
		if err != nil {
			run.Error = err.Error()
			s.logger.Error().Str("job", j.name).Err(err).Msg("Job failed")
		}
		s.mu.Lock()
		s.runs[j.name] = run
		s.mu.Unlock()
	}()

	return j.run(ctx)
}

// Runs returns the last outcome of every job that has run, by name.
func (s *Scheduler) Runs() []models.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.JobRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.JobRun) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Stop cancels the loops and waits for in-flight runs to complete.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}
