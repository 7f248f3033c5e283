// Package location defines the position-fix source consumed by the
// capture flow. The provider contract applies a bounded wait and may
// serve a recent cached fix to avoid redundant sensor activation.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/herbtrace/herbtrace/internal/record"
)

// Failure modes. A location failure blocks entry into the capture flow
// entirely; there is no degraded no-location mode.
var (
	ErrPermissionDenied = errors.New("location: permission denied")
	ErrUnavailable      = errors.New("location: unavailable")
	ErrTimeout          = errors.New("location: timed out")
)

// Provider produces a position fix.
type Provider interface {
	Current(ctx context.Context) (record.Location, error)
}

// Static always returns a fixed position. It backs agent deployments
// where the device has no positioning hardware and the site coordinates
// are configured up front.
type Static struct {
	Fix record.Location
}

func (s Static) Current(_ context.Context) (record.Location, error) {
	return s.Fix, nil
}

// Cached wraps a provider with a bounded wait and a staleness window:
// a fix younger than MaxAge is reused without touching the inner
// provider, and an acquisition that exceeds Timeout fails with
// ErrTimeout.
type Cached struct {
	Inner   Provider
	MaxAge  time.Duration // default 5 minutes
	Timeout time.Duration // default 10 seconds
	Now     func() time.Time

	mu       sync.Mutex
	lastFix  record.Location
	lastTime time.Time
}

const (
	defaultMaxAge  = 5 * time.Minute
	defaultTimeout = 10 * time.Second
)

func (c *Cached) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Current returns a cached fix when fresh enough, otherwise acquires a
// new one from the inner provider under the configured timeout.
func (c *Cached) Current(ctx context.Context) (record.Location, error) {
	maxAge := c.MaxAge
	if maxAge == 0 {
		maxAge = defaultMaxAge
	}

	c.mu.Lock()
	if !c.lastTime.IsZero() && c.now().Sub(c.lastTime) <= maxAge {
		fix := c.lastFix
		c.mu.Unlock()
		return fix, nil
	}
	c.mu.Unlock()

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fix, err := c.Inner.Current(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return record.Location{}, ErrTimeout
		}
		return record.Location{}, err
	}

	c.mu.Lock()
	c.lastFix = fix
	c.lastTime = c.now()
	c.mu.Unlock()

	return fix, nil
}
