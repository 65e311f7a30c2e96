package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RestartPolicy bounds crash-loop restarts. The zero value restarts
// immediately and without limit.
type RestartPolicy struct {
	// MaxRestarts stops relaunching a worker once it has been restarted
	// this many times. Zero means unlimited.
	MaxRestarts int

	// Backoff defers each relaunch by an exponentially growing delay.
	Backoff        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RestartPolicy) exhausted(restarts int) bool {
	return p.MaxRestarts > 0 && restarts >= p.MaxRestarts
}

func (p RestartPolicy) newBackOff() *backoff.ExponentialBackOff {
	if !p.Backoff {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.Reset()
	return b
}
