package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/provisioning"
)

const defaultRetryDelay = 500 * time.Millisecond

// Observer receives one callback per attempted provisioning call.
type Observer interface {
	ObserveProvisioningCall(backend, op string, duration time.Duration, err error)
}

// GuardOptions bounds the calls made through Guarded.
type GuardOptions struct {
	// Timeout applies to every single call, each retry included.
	Timeout time.Duration

	// Read retries. Attempts counts the first call.
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration

	Clock    clock.Clock
	Observer Observer
	Logger   *logging.Logger
}

// Guarded wraps an API with per-call timeouts. Reads that fail with
// ErrRemoteStateUnavailable are retried with exponential backoff; mutating
// calls are never retried here.
type Guarded struct {
	api  provisioning.API
	opts GuardOptions
}

// Guard wraps api.
func Guard(api provisioning.API, opts GuardOptions) *Guarded {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Guarded{api: api, opts: opts}
}

// Unwrap returns the wrapped backend.
func (g *Guarded) Unwrap() provisioning.API {
	return g.api
}

// Name implements provisioning.API.
func (g *Guarded) Name() string {
	return g.api.Name()
}

// ID implements provisioning.API.
func (g *Guarded) ID(spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	return g.api.ID(spec)
}

// Create implements provisioning.API.
func (g *Guarded) Create(ctx context.Context, spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	var id provisioning.ResourceID
	err := g.call(ctx, "create", func(ctx context.Context) error {
		var err error
		id, err = g.api.Create(ctx, spec)
		return err
	})
	return id, err
}

// Read implements provisioning.API.
func (g *Guarded) Read(ctx context.Context, id provisioning.ResourceID) (*provisioning.RemoteState, error) {
	var (
		state   *provisioning.RemoteState
		lastErr error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = g.call(ctx, "read", func(ctx context.Context) error {
				var err error
				state, err = g.api.Read(ctx, id)
				return err
			})
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, dserrors.ErrRemoteStateUnavailable)
		},
		NotifyFunc: func(err error, attempt int) {
			g.opts.Logger.Debug("read %s attempt %d: %v", id, attempt, err)
		},
		Attempts:    g.opts.Attempts,
		Delay:       g.opts.Delay,
		MaxDelay:    g.opts.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       g.opts.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return nil, attemptError(err, lastErr)
	}
	return state, nil
}

// Update implements provisioning.API.
func (g *Guarded) Update(ctx context.Context, id provisioning.ResourceID, fields map[string]string) (*provisioning.RemoteState, error) {
	var state *provisioning.RemoteState
	err := g.call(ctx, "update", func(ctx context.Context) error {
		var err error
		state, err = g.api.Update(ctx, id, fields)
		return err
	})
	return state, err
}

// Destroy implements provisioning.API.
func (g *Guarded) Destroy(ctx context.Context, id provisioning.ResourceID) error {
	return g.call(ctx, "destroy", func(ctx context.Context) error {
		return g.api.Destroy(ctx, id)
	})
}

func (g *Guarded) call(parent context.Context, op string, fn func(ctx context.Context) error) error {
	ctx := parent
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, g.opts.Timeout)
		defer cancel()
	}

	start := g.opts.Clock.Now()
	err := fn(ctx)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, dserrors.ErrRemoteStateUnavailable) {
		err = dserrors.RemoteUnavailable(op, fmt.Errorf("no response within %s: %w", g.opts.Timeout, err))
	}
	if g.opts.Observer != nil {
		g.opts.Observer.ObserveProvisioningCall(g.api.Name(), op, g.opts.Clock.Now().Sub(start), err)
	}
	return err
}

// attemptError returns the error of the last attempt made by retry.Call, so
// callers can match it with errors.Is. The retry wrapper is only returned
// when no attempt ran.
func attemptError(err, last error) error {
	if last != nil {
		return last
	}
	return err
}
