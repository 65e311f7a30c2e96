package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the poll tick used by Run.
	DefaultInterval = 5 * time.Second
	// DefaultStopGrace is how long Shutdown waits before killing processes.
	DefaultStopGrace = 5 * time.Second
)

// ErrUnknownWorker is returned for names that were never declared.
var ErrUnknownWorker = errors.New("unknown worker")

type worker struct {
	def     Definition
	rec     Record
	enabled bool
	inst    instance

	pendingRestart bool
	nextAttempt    time.Time
	backoff        *backoff.ExponentialBackOff
	exhausted      bool
}

// Supervisor owns the worker records and their running instances.
type Supervisor struct {
	mu      sync.Mutex
	order   []string
	workers map[string]*worker
	tasks   map[string]TaskFunc
	parent  context.Context

	policy   RestartPolicy
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics enables restart and liveness metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithInterval sets the Run poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPolicy sets the restart policy.
func WithPolicy(p RestartPolicy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithStopGrace sets how long Shutdown waits for processes after SIGTERM.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithTask registers the body of a task worker.
func WithTask(name string, fn TaskFunc) Option {
	return func(s *Supervisor) { s.tasks[name] = fn }
}

// New declares the workers. Names must be unique.
func New(defs []Definition, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		workers:  make(map[string]*worker, len(defs)),
		tasks:    map[string]TaskFunc{},
		parent:   context.Background(),
		interval: DefaultInterval,
		grace:    DefaultStopGrace,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("worker definition without a name")
		}
		if _, dup := s.workers[def.Name]; dup {
			return nil, fmt.Errorf("duplicate worker %q", def.Name)
		}
		switch def.Kind {
		case KindProcess:
			if def.Command == "" {
				return nil, fmt.Errorf("worker %q: process workers need a command", def.Name)
			}
		case KindTask:
		default:
			return nil, fmt.Errorf("worker %q: unknown kind %q", def.Name, def.Kind)
		}

		status := StatusUnknown
		if def.Disabled {
			status = StatusStopped
		}
		s.workers[def.Name] = &worker{
			def:     def,
			enabled: !def.Disabled,
			backoff: s.policy.newBackOff(),
			rec: Record{
				Name:   def.Name,
				Kind:   def.Kind,
				Launch: def.Launch(),
				Status: status,
			},
		}
		s.order = append(s.order, def.Name)
	}
	return s, nil
}

// Register adds or replaces a task body. It takes effect on the next launch.
func (s *Supervisor) Register(name string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = fn
}

// Names returns the declared worker names in declaration order.
func (s *Supervisor) Names() []string {
	return append([]string(nil), s.order...)
}

// Start enables a worker and launches it if it is not running.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	w.enabled = true
	w.pendingRestart = false
	w.exhausted = false
	if w.backoff != nil {
		w.backoff.Reset()
	}
	if w.inst == nil {
		s.launch(s.parent, w)
	}
	return nil
}

// Stop disables a worker. Processes get SIGTERM; tasks get their context
// cancelled. The worker is not relaunched until Start.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	w.enabled = false
	w.pendingRestart = false
	if w.inst != nil {
		w.inst.stop()
		w.inst = nil
	}
	w.rec.Status = StatusStopped
	w.rec.PID = 0
	s.metrics.SetWorkerUp(name, false)
	s.logger.Info("worker stopped", zap.String("worker", name))
	return nil
}

// Poll runs one supervision tick. Exited workers are marked crashed and
// relaunched as the policy allows; absent or never-launched workers are
// launched.
func (s *Supervisor) Poll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, name := range s.order {
		s.pollWorker(ctx, s.workers[name], now)
	}
}

func (s *Supervisor) pollWorker(ctx context.Context, w *worker, now time.Time) {
	if !w.enabled {
		return
	}
	if w.inst != nil {
		select {
		case <-w.inst.done():
			s.markCrashed(w, now)
		default:
			return
		}
	}

	if !w.pendingRestart {
		s.launch(ctx, w)
		return
	}
	if s.policy.exhausted(w.rec.Restarts) {
		if !w.exhausted {
			w.exhausted = true
			s.logger.Error("worker restart limit reached",
				zap.String("worker", w.def.Name), zap.Int("restarts", w.rec.Restarts))
		}
		return
	}
	if now.Before(w.nextAttempt) {
		return
	}
	w.pendingRestart = false
	w.rec.Restarts++
	s.metrics.ObserveRestart(w.def.Name)
	s.launch(ctx, w)
}

func (s *Supervisor) markCrashed(w *worker, now time.Time) {
	err := w.inst.exitError()
	w.inst = nil
	w.pendingRestart = true
	w.rec.Status = StatusCrashed
	w.rec.PID = 0
	w.rec.LastError = describeExit(w.def.Kind, err)
	if w.backoff != nil {
		w.nextAttempt = now.Add(w.backoff.NextBackOff())
	}
	s.metrics.SetWorkerUp(w.def.Name, false)
	s.logger.Warn("worker exited, restarting",
		zap.String("worker", w.def.Name),
		zap.String("last_error", w.rec.LastError),
		zap.Int("restarts", w.rec.Restarts))
}

// launch starts one instance. Callers hold s.mu.
func (s *Supervisor) launch(ctx context.Context, w *worker) {
	var (
		inst instance
		err  error
	)
	switch w.def.Kind {
	case KindProcess:
		var p *processInstance
		p, err = startProcess(w.def)
		if err == nil {
			inst = p
		}
	case KindTask:
		fn, ok := s.tasks[w.def.taskName()]
		if !ok {
			err = fmt.Errorf("task %s: %w", w.def.taskName(), ErrAbsent)
			break
		}
		inst = startTask(ctx, fn)
	}

	if err != nil {
		if w.rec.Status != StatusAbsent {
			s.logger.Warn("worker cannot be launched", zap.String("worker", w.def.Name), zap.Error(err))
		}
		w.rec.Status = StatusAbsent
		w.rec.LastError = err.Error()
		w.rec.PID = 0
		return
	}

	w.inst = inst
	w.rec.Status = StatusRunning
	w.rec.PID = inst.pid()
	w.rec.StartedAt = time.Now()
	s.metrics.SetWorkerUp(w.def.Name, true)
	s.logger.Info("worker launched", zap.String("worker", w.def.Name), zap.Int("pid", w.rec.PID))
}

// Run launches every enabled worker and polls every interval until ctx is
// cancelled, then shuts all workers down.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	for _, name := range s.order {
		if w := s.workers[name]; w.enabled && w.inst == nil {
			s.launch(ctx, w)
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Shutdown stops every running worker, killing processes that outlive the
// grace period. Workers keep their enabled flag.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	var running []instance
	for _, name := range s.order {
		w := s.workers[name]
		if w.inst == nil {
			continue
		}
		w.inst.stop()
		running = append(running, w.inst)
		w.inst = nil
		w.pendingRestart = false
		w.rec.Status = StatusStopped
		w.rec.PID = 0
		s.metrics.SetWorkerUp(name, false)
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	expired := false
	for _, inst := range running {
		if _, isTask := inst.(*taskInstance); isTask {
			continue
		}
		if !expired {
			select {
			case <-inst.done():
				continue
			case <-timer.C:
				expired = true
			}
		}
		inst.kill()
	}
}

// Get returns a copy of one record.
func (s *Supervisor) Get(name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return Record{}, false
	}
	return w.rec, true
}

// Snapshot returns copies of all records in declaration order.
func (s *Supervisor) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.workers[name].rec)
	}
	return out
}

// Report formats one line per worker.
func (s *Supervisor) Report() string {
	recs := s.Snapshot()
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}
