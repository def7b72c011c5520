package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/IshaanNene/hotline-scraper/internal/config"
	"github.com/IshaanNene/hotline-scraper/internal/observability"
	"github.com/IshaanNene/hotline-scraper/internal/parser"
)

// State is the lifecycle state of one kind's refresh loop.
type State int32

const (
	StateIdle    State = 0
	StateRunning State = 1
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in status responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunResult is the outcome of ForceRun.
type RunResult int

const (
	Accepted RunResult = iota + 1
	Rejected
)

func (r RunResult) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}

var (
	// ErrSchedulerStarted is returned by Start on a scheduler that was already started.
	ErrSchedulerStarted = errors.New("scheduler already started")
	// ErrUnknownKind is returned by ForceRun for a kind with no sources.
	ErrUnknownKind = errors.New("unknown source kind")
)

// SourceRunner runs one scheduler unit: fetch, extract and persist a source.
type SourceRunner interface {
	RunSource(ctx context.Context, kind parser.Kind, rawURL string) (int, error)
}

// KindStatus describes one kind's refresh loop.
type KindStatus struct {
	Kind          parser.Kind `json:"kind"`
	State         State       `json:"state"`
	Sources       []string    `json:"sources"`
	CurrentSource string      `json:"current_source,omitempty"`
	LastStart     *time.Time  `json:"last_start,omitempty"`
	LastFinish    *time.Time  `json:"last_finish,omitempty"`
	LastErrors    int         `json:"last_errors"`
	LastRecords   int         `json:"last_records"`
	NextRun       *time.Time  `json:"next_run,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running  bool         `json:"running"`
	Interval string       `json:"interval"`
	Kinds    []KindStatus `json:"kinds"`
}

type kindLoop struct {
	kind    parser.Kind
	sources []string
	sem     *semaphore.Weighted

	mu     sync.Mutex
	status KindStatus
}

// Scheduler refreshes every source kind on a fixed interval. Each kind runs
// its sources sequentially and at most one cycle of a kind runs at a time.
type Scheduler struct {
	runner     SourceRunner
	interval   time.Duration
	runOnStart bool
	loops      []*kindLoop
	metrics    *observability.Metrics
	logger     *slog.Logger

	running atomic.Bool
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler for the product and news sources in cfg.
func NewScheduler(cfg config.SchedulerConfig, runner SourceRunner, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:     runner,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		metrics:    metrics,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.addKind(parser.KindProducts, cfg.ProductURLs)
	s.addKind(parser.KindNews, cfg.NewsSources)
	return s
}

func (s *Scheduler) addKind(kind parser.Kind, sources []string) {
	s.loops = append(s.loops, &kindLoop{
		kind:    kind,
		sources: sources,
		sem:     semaphore.NewWeighted(1),
		status:  KindStatus{Kind: kind, State: StateIdle, Sources: sources},
	})
}

func (s *Scheduler) loop(kind parser.Kind) *kindLoop {
	for _, l := range s.loops {
		if l.kind == kind {
			return l
		}
	}
	return nil
}

// Start launches one loop per kind. ctx cancellation stops the scheduler
// like Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSchedulerStarted
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Minute
	}
	s.running.Store(true)

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	for _, l := range s.loops {
		s.wg.Add(1)
		go s.runLoop(l)
	}
	s.logger.Info("scheduler started", "interval", s.interval, "run_on_start", s.runOnStart)
	return nil
}

func (s *Scheduler) runLoop(l *kindLoop) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	l.setNextRun(time.Now().Add(s.interval))

	if s.runOnStart {
		s.tryCycle(l, "startup")
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			l.setNextRun(time.Now().Add(s.interval))
			s.tryCycle(l, "tick")
		}
	}
}

func (s *Scheduler) tryCycle(l *kindLoop, trigger string) {
	if !l.sem.TryAcquire(1) {
		s.logger.Info("cycle skipped, previous still running", "kind", l.kind, "trigger", trigger)
		return
	}
	defer l.sem.Release(1)
	s.runCycle(s.ctx, l, trigger)
}

// ForceRun starts a cycle of kind in the background. It is rejected while a
// cycle of the same kind is running.
func (s *Scheduler) ForceRun(kind parser.Kind) (RunResult, error) {
	l := s.loop(kind)
	if l == nil {
		return Rejected, ErrUnknownKind
	}
	if !l.sem.TryAcquire(1) {
		s.logger.Info("forced run rejected, cycle in progress", "kind", kind)
		return Rejected, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer l.sem.Release(1)
		s.runCycle(s.ctx, l, "forced")
	}()
	return Accepted, nil
}

func (s *Scheduler) runCycle(ctx context.Context, l *kindLoop, trigger string) {
	logger := s.logger.With("kind", l.kind, "trigger", trigger)
	start := time.Now()
	l.begin(start)
	logger.Info("cycle started", "sources", len(l.sources))

	var failures, records int
	for _, src := range l.sources {
		if ctx.Err() != nil {
			logger.Warn("cycle interrupted", "error", ctx.Err())
			break
		}
		l.setCurrent(src)

		n, err := s.runner.RunSource(ctx, l.kind, src)
		if err != nil {
			failures++
			s.metrics.SourceFailures.Add(1)
			logger.Error("source failed", "source", src, "error", err)
			continue
		}
		records += n
		logger.Debug("source done", "source", src, "records", n)
	}

	l.finish(time.Now(), failures, records)
	s.metrics.CyclesCompleted.Add(1)
	logger.Info("cycle finished",
		"records", records,
		"failures", failures,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// Stop cancels running cycles and waits for every loop and forced run.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	if s.running.CompareAndSwap(true, false) {
		s.logger.Info("scheduler stopped")
	}
}

// Wait blocks until every loop and forced run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Status returns a snapshot of every kind.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:  s.running.Load() && s.ctx.Err() == nil,
		Interval: s.interval.String(),
		Kinds:    make([]KindStatus, 0, len(s.loops)),
	}
	for _, l := range s.loops {
		st.Kinds = append(st.Kinds, l.snapshot())
	}
	return st
}

func (l *kindLoop) begin(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.State = StateRunning
	l.status.LastStart = &t
	l.status.CurrentSource = ""
}

func (l *kindLoop) setCurrent(src string) {
	l.mu.Lock()
	l.status.CurrentSource = src
	l.mu.Unlock()
}

func (l *kindLoop) setNextRun(t time.Time) {
	l.mu.Lock()
	l.status.NextRun = &t
	l.mu.Unlock()
}

func (l *kindLoop) finish(t time.Time, failures, records int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.State = StateIdle
	l.status.CurrentSource = ""
	l.status.LastFinish = &t
	l.status.LastErrors = failures
	l.status.LastRecords = records
}

func (l *kindLoop) snapshot() KindStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Sources = append([]string(nil), l.status.Sources...)
	return st
}
