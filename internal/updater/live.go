package updater

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrBusy is returned by a manual check while another check is running.
var ErrBusy = errors.New("an update check is already running")

// EventKind names a live update event.
type EventKind string

const (
	EventFilesFound     EventKind = "files_found"
	EventNoUpdate       EventKind = "no_update"
	EventCheckFailed    EventKind = "check_failed"
	EventDownloaded     EventKind = "downloaded"
	EventDownloadFailed EventKind = "download_failed"
)

// Event reports one check or download result to the presentation layer.
type Event struct {
	Kind   EventKind
	Files  []string
	Err    error
	Silent bool
	At     time.Time
}

const eventBuffer = 32

// Live ties a Checker to a Downloader and publishes what happens on Events.
type Live struct {
	checker    *Checker
	downloader *Downloader
	logger     *zap.Logger
	events     chan Event

	downloading atomic.Bool
}

// NewLive creates the orchestrator. A nil logger disables logging.
func NewLive(checker *Checker, downloader *Downloader, logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{
		checker:    checker,
		downloader: downloader,
		logger:     logger,
		events:     make(chan Event, eventBuffer),
	}
}

// Events returns the event stream. Events are dropped when nobody drains it.
func (l *Live) Events() <-chan Event {
	return l.events
}

// Checker returns the underlying checker.
func (l *Live) Checker() *Checker {
	return l.checker
}

func (l *Live) publish(ev Event) {
	ev.At = time.Now()
	select {
	case l.events <- ev:
	default:
		l.logger.Debug("event dropped, no reader", zap.String("kind", string(ev.Kind)))
	}
}

// CheckSilent runs a background check and downloads whatever changed.
// It returns false when the trigger was dropped because a check was
// already in flight.
func (l *Live) CheckSilent(ctx context.Context) bool {
	out, started := l.checker.Check(ctx, CheckRequest{})
	if !started {
		l.logger.Debug("check already running, trigger dropped")
		return false
	}

	switch out.Kind {
	case OutcomeFailed:
		l.logger.Warn("silent update check failed", zap.Error(out.Err))
		l.publish(Event{Kind: EventCheckFailed, Err: out.Err, Silent: true})
	case OutcomeNotFound:
		l.publish(Event{Kind: EventNoUpdate, Silent: true})
	case OutcomeFound:
		l.logger.Info("updates found", zap.Strings("files", out.Changed))
		l.publish(Event{Kind: EventFilesFound, Files: out.Changed, Silent: true})
		_, err := l.Download(ctx, out.Changed, true)
		switch {
		case errors.Is(err, ErrBusy):
			// The running download may predate this change; announce it
			// again on the next cycle.
			l.checker.Forget(out.Changed...)
			l.logger.Debug("download already running, change deferred", zap.Strings("files", out.Changed))
		case err != nil:
			l.logger.Warn("silent download incomplete", zap.Error(err))
		}
	}
	return true
}

// CheckManual runs a user-requested check that reports every difference,
// including ones an earlier silent check already announced.
func (l *Live) CheckManual(ctx context.Context) (Outcome, error) {
	out, started := l.checker.Check(ctx, CheckRequest{Manual: true})
	if !started {
		return Outcome{}, ErrBusy
	}
	switch out.Kind {
	case OutcomeFailed:
		l.publish(Event{Kind: EventCheckFailed, Err: out.Err})
		return out, out.Err
	case OutcomeNotFound:
		l.publish(Event{Kind: EventNoUpdate})
	case OutcomeFound:
		l.publish(Event{Kind: EventFilesFound, Files: out.Changed})
	}
	return out, nil
}

// Download fetches names. A second call while one runs returns ErrBusy.
// Failed artifacts are forgotten by the checker so the next cycle
// announces them again.
func (l *Live) Download(ctx context.Context, names []string, silent bool) (DownloadResult, error) {
	if !l.downloading.CompareAndSwap(false, true) {
		return DownloadResult{}, ErrBusy
	}
	defer l.downloading.Store(false)

	res := l.downloader.Download(ctx, names)
	if len(res.Succeeded) > 0 {
		l.publish(Event{Kind: EventDownloaded, Files: res.Succeeded, Silent: silent})
	}
	err := res.Err()
	if err != nil {
		failed := res.FailedNames()
		l.checker.Forget(failed...)
		l.publish(Event{Kind: EventDownloadFailed, Files: failed, Err: err, Silent: silent})
	}
	return res, err
}

// Run performs a silent check immediately and then every interval until
// ctx is cancelled.
func (l *Live) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l.CheckSilent(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CheckSilent(ctx)
		}
	}
}
