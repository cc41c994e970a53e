package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/credrotate/internal/errors"
	"github.com/systmms/credrotate/pkg/binder"
	"github.com/systmms/credrotate/pkg/epoch"
	"github.com/systmms/credrotate/pkg/provisioning"
)

func TestLoadMissingRecord(t *testing.T) {
	t.Parallel()

	fs := NewFileStore(t.TempDir())
	rec, err := fs.Load("pgadmin")
	require.NoError(t, err)
	assert.Equal(t, "pgadmin", rec.Spec)
	assert.Equal(t, binder.StateAbsent, rec.Binding)
	assert.Zero(t, rec.Serial)
	assert.True(t, rec.LastEpoch.IsZero())
	assert.NotNil(t, rec.Resources)
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := NewFileStore(dir)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := NewRecord("pgadmin")
	rec.LastEpoch = epoch.Epoch{ID: 2, CreatedAt: created}
	rec.Current = &CredentialRecord{ID: "2-abcd1234", EpochID: 2, Login: "aXy12", PasswordRef: "credrotate/pgadmin/2"}
	rec.Binding = binder.StateProvisioned
	rec.Resources["server"] = "T/server/pg"
	rec.Remote["server"] = &provisioning.RemoteState{ID: "T/server/pg", Fields: map[string]string{"zone": "1"}}

	require.NoError(t, fs.Save(rec))
	assert.Equal(t, uint64(1), rec.Serial)
	require.NoError(t, fs.Save(rec))
	assert.Equal(t, uint64(2), rec.Serial)

	loaded, err := fs.Load("pgadmin")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Serial)
	assert.Equal(t, uint64(2), loaded.LastEpoch.ID)
	assert.True(t, created.Equal(loaded.LastEpoch.CreatedAt))
	assert.Equal(t, "credrotate/pgadmin/2", loaded.Current.PasswordRef)
	assert.Equal(t, provisioning.ResourceID("T/server/pg"), loaded.Resources["server"])
	assert.Equal(t, "1", loaded.Remote["server"].Fields["zone"])

	info, err := os.Stat(filepath.Join(dir, "records", "pgadmin.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	specs, err := fs.Specs()
	require.NoError(t, err)
	assert.Equal(t, []string{"pgadmin"}, specs)
}

func TestSaveNeverEmbedsPasswords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := NewFileStore(dir)
	rec := NewRecord("pgadmin")
	rec.Current = &CredentialRecord{ID: "1-x", Login: "aLogin", PasswordRef: "ref-1"}
	require.NoError(t, fs.Save(rec))

	data, err := os.ReadFile(filepath.Join(dir, "records", "pgadmin.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password\"")
	assert.Contains(t, string(data), "password_ref")
}

func TestLoadCorruptRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "records"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records", "bad.json"), []byte("{"), 0600))

	_, err := NewFileStore(dir).Load("bad")
	assert.Error(t, err)
}

func TestRecordClone(t *testing.T) {
	t.Parallel()

	rec := NewRecord("a")
	rec.Current = &CredentialRecord{ID: "1"}
	rec.Remote["r"] = &provisioning.RemoteState{ID: "x", Fields: map[string]string{"k": "v"}}

	c := rec.Clone()
	c.Current.ID = "2"
	c.Remote["r"].Fields["k"] = "changed"
	c.Resources["new"] = "id"

	assert.Equal(t, "1", rec.Current.ID)
	assert.Equal(t, "v", rec.Remote["r"].Fields["k"])
	assert.NotContains(t, rec.Resources, "new")
}

func TestRecordSetBinding(t *testing.T) {
	t.Parallel()

	rec := NewRecord("a")
	require.NoError(t, rec.SetBinding(binder.StateProvisioned))
	require.NoError(t, rec.SetBinding(binder.StateStale))
	assert.Error(t, rec.SetBinding(binder.StateAbsent))
	assert.Equal(t, binder.StateStale, rec.Binding)
}

func TestDefaultStateDir(t *testing.T) {
	t.Setenv("CREDROTATE_STATE_DIR", "/tmp/credrotate-test")
	assert.Equal(t, "/tmp/credrotate-test", DefaultStateDir())

	t.Setenv("CREDROTATE_STATE_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "credrotate"), DefaultStateDir())
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "prod-pg_admin", sanitizeFilename("prod/pg admin"))
}

func TestLockContention(t *testing.T) {
	t.Parallel()

	fs := NewFileStore(t.TempDir())

	lock, err := fs.Lock("pgadmin")
	require.NoError(t, err)
	assert.Equal(t, "pgadmin", lock.Spec())

	holder, err := fs.LockHolder("pgadmin")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, os.Getpid(), holder.PID)

	_, err = fs.Lock("pgadmin")
	require.ErrorIs(t, err, dserrors.ErrReconciliationInProgress)
	assert.Contains(t, err.Error(), "held by pid")

	other, err := fs.Lock("other")
	require.NoError(t, err)
	require.NoError(t, other.Unlock())

	require.NoError(t, lock.Unlock())
	holder, err = fs.LockHolder("pgadmin")
	require.NoError(t, err)
	assert.Nil(t, holder)

	again, err := fs.Lock("pgadmin")
	require.NoError(t, err)
	require.NoError(t, again.Unlock())

	var nilLock *Lock
	assert.NoError(t, nilLock.Unlock())
}
