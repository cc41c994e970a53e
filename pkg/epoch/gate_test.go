package epoch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/credrotate/internal/errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	last := Epoch{ID: 4, CreatedAt: t0}

	tests := []struct {
		name string
		now  time.Time
		last Epoch
		want Epoch
	}{
		{
			name: "first epoch",
			now:  t0,
			last: Epoch{},
			want: Epoch{ID: 1, CreatedAt: t0},
		},
		{
			name: "within interval keeps last",
			now:  t0.Add(time.Hour),
			last: last,
			want: last,
		},
		{
			name: "exactly at interval starts new epoch",
			now:  t0.Add(day),
			last: last,
			want: Epoch{ID: 5, CreatedAt: t0.Add(day)},
		},
		{
			name: "past interval starts new epoch",
			now:  t0.Add(25 * time.Hour),
			last: last,
			want: Epoch{ID: 5, CreatedAt: t0.Add(25 * time.Hour)},
		},
		{
			name: "now before last keeps last",
			now:  t0.Add(-48 * time.Hour),
			last: last,
			want: last,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.now, tt.last, day)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateInvalidInterval(t *testing.T) {
	t.Parallel()

	for _, interval := range []time.Duration{0, -time.Minute} {
		_, err := Evaluate(t0, Epoch{}, interval)
		assert.ErrorIs(t, err, dserrors.ErrInvalidInterval)
	}

	_, err := NewGate(0, Epoch{})
	assert.ErrorIs(t, err, dserrors.ErrInvalidInterval)
}

func TestEvaluateIdempotentForSameNow(t *testing.T) {
	t.Parallel()

	last := Epoch{ID: 1, CreatedAt: t0}
	now := t0.Add(30 * time.Hour)

	first, err := Evaluate(now, last, 24*time.Hour)
	require.NoError(t, err)
	second, err := Evaluate(now, first, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGateAdvance(t *testing.T) {
	t.Parallel()

	g, err := NewGate(24*time.Hour, Epoch{})
	require.NoError(t, err)
	assert.True(t, g.NextDue().IsZero())

	e1, advanced, err := g.Advance(t0)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, uint64(1), e1.ID)

	same, advanced, err := g.Advance(t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, e1, same)

	e2, advanced, err := g.Advance(t0.Add(25 * time.Hour))
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, uint64(2), e2.ID)
	assert.Equal(t, e2, g.Last())
	assert.Equal(t, t0.Add(49*time.Hour), g.NextDue())
	assert.Equal(t, 24*time.Hour, g.Interval())
}

func TestEpochString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", Epoch{}.String())
	assert.Equal(t, "#3 (2026-03-01T12:00:00Z)", Epoch{ID: 3, CreatedAt: t0}.String())
}
