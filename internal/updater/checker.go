package updater

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"go.uber.org/zap"
)

// OutcomeKind is the terminal state of one check cycle.
type OutcomeKind string

const (
	OutcomeFound    OutcomeKind = "found"
	OutcomeNotFound OutcomeKind = "not_found"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the result of a completed check.
type Outcome struct {
	Kind OutcomeKind
	// Changed lists the artifacts whose remote content differs, sorted.
	Changed []string
	// Remote holds the remote fingerprint of each changed artifact.
	Remote map[string]string
	// Errors holds per-artifact lookup failures.
	Errors map[string]error
	// Err is set when Kind is OutcomeFailed.
	Err error
}

// CheckRequest parameterizes a check.
type CheckRequest struct {
	// Manual checks report every difference, including ones already
	// announced by an earlier check.
	Manual bool
}

// Checker compares remote artifact fingerprints with the local store.
// At most one check runs at a time; a Check call made while another is in
// flight returns immediately without touching the network.
type Checker struct {
	source  Source
	store   *FingerprintStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	running  atomic.Bool
	inFlight atomic.Int32

	mu        sync.Mutex
	announced map[string]string
}

// NewChecker creates a Checker. A nil logger disables logging.
func NewChecker(source Source, store *FingerprintStore, logger *zap.Logger, m *metrics.Metrics) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		source:    source,
		store:     store,
		logger:    logger,
		metrics:   m,
		announced: map[string]string{},
	}
}

// Running reports whether a check is in progress.
func (c *Checker) Running() bool {
	return c.running.Load()
}

// InFlight returns the number of checks currently issuing requests.
func (c *Checker) InFlight() int32 {
	return c.inFlight.Load()
}

// Forget clears the announcement memory for the given artifacts, or for
// all of them when called without arguments, so the next silent check
// reports them again.
func (c *Checker) Forget(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		clear(c.announced)
		return
	}
	for _, n := range names {
		delete(c.announced, n)
	}
}

type lookupResult struct {
	name   string
	remote string
	err    error
}

// Check runs one check cycle. started is false when another check was
// already running, in which case the Outcome is zero.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (out Outcome, started bool) {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{}, false
	}
	defer c.running.Store(false)

	c.metrics.SetChecksInFlight(c.inFlight.Add(1))
	defer func() { c.metrics.SetChecksInFlight(c.inFlight.Add(-1)) }()

	artifacts := c.source.Artifacts()
	results := make([]lookupResult, len(artifacts))
	var wg sync.WaitGroup
	for i, name := range artifacts {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			remote, err := c.source.Lookup(ctx, name)
			results[i] = lookupResult{name: name, remote: remote, err: err}
		}(i, name)
	}
	wg.Wait()

	out = c.evaluate(results, req)
	c.metrics.ObserveCheck(string(out.Kind))
	return out, true
}

func (c *Checker) evaluate(results []lookupResult, req CheckRequest) Outcome {
	detector, _ := c.source.(ChangeDetector)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{Remote: map[string]string{}, Errors: map[string]error{}}
	var errs []error
	for _, r := range results {
		if r.err != nil {
			c.logger.Warn("update lookup failed", zap.String("artifact", r.name), zap.Error(r.err))
			out.Errors[r.name] = r.err
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
			continue
		}

		local, known := c.store.Get(r.name)
		var changed bool
		if detector != nil {
			changed = detector.Changed(local, known, r.remote)
		} else {
			changed = !known || local != r.remote
		}
		if !changed {
			continue
		}
		if !req.Manual && c.announced[r.name] == r.remote {
			c.logger.Debug("change already announced", zap.String("artifact", r.name), zap.String("fingerprint", r.remote))
			continue
		}
		c.announced[r.name] = r.remote
		out.Changed = append(out.Changed, r.name)
		out.Remote[r.name] = r.remote
	}
	slices.Sort(out.Changed)

	switch {
	case len(out.Changed) > 0:
		out.Kind = OutcomeFound
	case len(errs) > 0:
		out.Kind = OutcomeFailed
		out.Err = errors.Join(errs...)
	default:
		out.Kind = OutcomeNotFound
	}
	return out
}
