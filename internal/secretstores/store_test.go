package secretstores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// runStoreContract checks the behaviour every Store shares.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	ref := Ref("", "pgadmin", "1-abcdef")

	_, err := store.Get(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, ref, "first-Pa55!"))
	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "first-Pa55!", got)

	require.NoError(t, store.Put(ctx, ref, "second-Pa55!"))
	got, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "second-Pa55!", got)

	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Get(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, ref), "deleting a missing secret is not an error")
}

func TestRef(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "credrotate-pgadmin-3-1a2b", Ref("", "pgadmin", "3-1a2b"))
	assert.Equal(t, "team-prod-pg-3-1a2b", Ref("team", "prod/pg", "3-1a2b"))
	assert.Equal(t, "a-b--c", Ref("a_b", "", "c"))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	assert.Equal(t, "memory", store.Name())
	runStoreContract(t, store)
	assert.Empty(t, store.Refs())
}

func TestMemoryStoreCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemoryStore().Put(ctx, "a", "b"), context.Canceled)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store := NewKeyringStore("")
	assert.Equal(t, "keyring", store.Name())
	runStoreContract(t, store)
}
