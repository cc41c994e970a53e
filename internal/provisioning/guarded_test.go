package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/provisioning"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	errs  int
}

func (o *recordingObserver) ObserveProvisioningCall(backend, op string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, backend+"."+op)
	if err != nil {
		o.errs++
	}
}

// blockingAPI never answers before the context is done.
type blockingAPI struct {
	*provisioning.Memory
}

func (b blockingAPI) Read(ctx context.Context, id provisioning.ResourceID) (*provisioning.RemoteState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b blockingAPI) Update(ctx context.Context, id provisioning.ResourceID, fields map[string]string) (*provisioning.RemoteState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func seedMemory(t *testing.T) (*provisioning.Memory, provisioning.ResourceID) {
	t.Helper()
	m := provisioning.NewMemory()
	id, err := m.Create(context.Background(), provisioning.ResourceSpec{Name: "server", Type: "T/servers"})
	require.NoError(t, err)
	m.ResetCalls()
	return m, id
}

func TestGuardedRetriesUnavailableReads(t *testing.T) {
	t.Parallel()

	m, id := seedMemory(t)
	unavailable := dserrors.RemoteUnavailable("read", errors.New("503"))
	m.FailNext(provisioning.OpRead, unavailable, unavailable)

	obs := &recordingObserver{}
	g := Guard(m, GuardOptions{Attempts: 4, Delay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Observer: obs})

	state, err := g.Read(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, state.ID)
	assert.Len(t, m.CallsOf(provisioning.OpRead), 3)
	assert.Equal(t, []string{"memory.read", "memory.read", "memory.read"}, obs.calls)
	assert.Equal(t, 2, obs.errs)
}

func TestGuardedGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	m, id := seedMemory(t)
	unavailable := dserrors.RemoteUnavailable("read", errors.New("503"))
	m.FailNext(provisioning.OpRead, unavailable, unavailable, unavailable)

	g := Guard(m, GuardOptions{Attempts: 2, Delay: time.Millisecond})
	_, err := g.Read(context.Background(), id)
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)
	assert.Len(t, m.CallsOf(provisioning.OpRead), 2)
}

func TestGuardedDoesNotRetryOtherReadErrors(t *testing.T) {
	t.Parallel()

	m := provisioning.NewMemory()
	g := Guard(m, GuardOptions{Attempts: 5, Delay: time.Millisecond})

	_, err := g.Read(context.Background(), "T/servers/missing")
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
	assert.Len(t, m.CallsOf(provisioning.OpRead), 1)
}

func TestGuardedReadKeepsNotFoundAfterRetry(t *testing.T) {
	t.Parallel()

	m := provisioning.NewMemory()
	m.FailNext(provisioning.OpRead, dserrors.RemoteUnavailable("read", errors.New("503")))
	g := Guard(m, GuardOptions{Attempts: 3, Delay: time.Millisecond})

	_, err := g.Read(context.Background(), "T/servers/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, provisioning.ErrNotFound)
	assert.NotContains(t, err.Error(), "unexpected error type")
	assert.Len(t, m.CallsOf(provisioning.OpRead), 2)
}

func TestGuardedDoesNotRetryMutations(t *testing.T) {
	t.Parallel()

	m, id := seedMemory(t)
	unavailable := dserrors.RemoteUnavailable("update", errors.New("503"))
	m.FailNext(provisioning.OpUpdate, unavailable)
	m.FailNext(provisioning.OpDestroy, unavailable)
	m.FailNext(provisioning.OpCreate, unavailable)

	g := Guard(m, GuardOptions{Attempts: 5, Delay: time.Millisecond})
	ctx := context.Background()

	_, err := g.Update(ctx, id, map[string]string{"a": "b"})
	assert.Error(t, err)
	assert.Error(t, g.Destroy(ctx, id))
	_, err = g.Create(ctx, provisioning.ResourceSpec{Name: "other", Type: "T/servers"})
	assert.Error(t, err)

	assert.Len(t, m.CallsOf(provisioning.OpUpdate), 1)
	assert.Len(t, m.CallsOf(provisioning.OpDestroy), 1)
	assert.Len(t, m.CallsOf(provisioning.OpCreate), 1)
}

func TestGuardedTimeout(t *testing.T) {
	t.Parallel()

	m, id := seedMemory(t)
	g := Guard(blockingAPI{m}, GuardOptions{Timeout: 10 * time.Millisecond, Attempts: 2, Delay: time.Millisecond})

	start := time.Now()
	_, err := g.Read(context.Background(), id)
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = g.Update(context.Background(), id, map[string]string{"a": "b"})
	assert.ErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)
}

func TestGuardedCallerCancellationIsNotUnavailable(t *testing.T) {
	t.Parallel()

	m, id := seedMemory(t)
	g := Guard(blockingAPI{m}, GuardOptions{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Update(ctx, id, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, dserrors.ErrRemoteStateUnavailable)
}
