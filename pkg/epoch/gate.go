package epoch

import (
	"fmt"
	"sync"
	"time"

	dserrors "github.com/systmms/credrotate/internal/errors"
)

// Epoch identifies one rotation interval.
type Epoch struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// IsZero reports whether no epoch has been recorded yet.
func (e Epoch) IsZero() bool {
	return e.ID == 0
}

// Expires returns when the epoch stops being current for interval.
func (e Epoch) Expires(interval time.Duration) time.Time {
	return e.CreatedAt.Add(interval)
}

func (e Epoch) String() string {
	if e.IsZero() {
		return "none"
	}
	return fmt.Sprintf("#%d (%s)", e.ID, e.CreatedAt.UTC().Format(time.RFC3339))
}

// Evaluate returns last while now - last.CreatedAt < interval, otherwise a new
// epoch stamped with now. A now earlier than last.CreatedAt keeps last.
func Evaluate(now time.Time, last Epoch, interval time.Duration) (Epoch, error) {
	if interval <= 0 {
		return last, fmt.Errorf("%w: %s must be positive", dserrors.ErrInvalidInterval, interval)
	}
	if !last.IsZero() && now.Sub(last.CreatedAt) < interval {
		return last, nil
	}
	return Epoch{ID: last.ID + 1, CreatedAt: now}, nil
}

// Gate remembers the last epoch between calls to Advance.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last Epoch
}

// NewGate creates a gate for interval seeded with the last recorded epoch.
func NewGate(interval time.Duration, last Epoch) (*Gate, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", dserrors.ErrInvalidInterval, interval)
	}
	return &Gate{interval: interval, last: last}, nil
}

// Advance evaluates now against the remembered epoch and records the result.
// The boolean is true when a new epoch began.
func (g *Gate) Advance(now time.Time) (Epoch, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next, err := Evaluate(now, g.last, g.interval)
	if err != nil {
		return g.last, false, err
	}
	advanced := next.ID != g.last.ID
	g.last = next
	return next, advanced, nil
}

// Last returns the remembered epoch.
func (g *Gate) Last() Epoch {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Interval returns the configured rotation interval.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// NextDue returns when the remembered epoch expires; the zero time if none.
func (g *Gate) NextDue() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.IsZero() {
		return time.Time{}
	}
	return g.last.Expires(g.interval)
}
