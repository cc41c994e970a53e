package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	dserrors "github.com/systmms/credrotate/internal/errors"
)

// LockInfo describes the process holding a spec lock.
type LockInfo struct {
	PID   int       `json:"pid"`
	Host  string    `json:"host"`
	Since time.Time `json:"since"`
}

// Lock is a held cross-process lock on one spec.
type Lock struct {
	spec     string
	flock    *flock.Flock
	infoPath string
}

// Lock takes the cross-process lock of spec without blocking. It fails with
// ErrReconciliationInProgress when another process holds it. The kernel
// drops the lock if the holder exits, so a crashed pass never blocks the
// next one.
func (fs *FileStore) Lock(spec string) (*Lock, error) {
	dir := filepath.Join(fs.baseDir, "locks")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	base := filepath.Join(dir, sanitizeFilename(spec))
	fl := flock.New(base + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", spec, err)
	}
	if !locked {
		msg := spec
		if info, err := fs.LockHolder(spec); err == nil && info != nil {
			msg = fmt.Sprintf("%s (held by pid %d on %s since %s)", spec, info.PID, info.Host, info.Since.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: %s", dserrors.ErrReconciliationInProgress, msg)
	}

	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Host: host, Since: fs.now().UTC()}
	data, err := json.Marshal(info)
	if err == nil {
		// The holder file is informational; failing to write it does not
		// invalidate the lock.
		_ = renameio.WriteFile(base+".holder", data, 0600)
	}

	return &Lock{spec: spec, flock: fl, infoPath: base + ".holder"}, nil
}

// LockHolder returns who holds the lock of spec, or nil if nobody does.
func (fs *FileStore) LockHolder(spec string) (*LockInfo, error) {
	base := filepath.Join(fs.baseDir, "locks", sanitizeFilename(spec))

	probe := flock.New(base + ".lock")
	locked, err := probe.TryLock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if locked {
		_ = probe.Unlock()
		return nil, nil
	}

	data, err := os.ReadFile(base + ".holder")
	if err != nil {
		return &LockInfo{}, nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return &LockInfo{}, nil
	}
	return &info, nil
}

// Spec returns the locked spec name.
func (l *Lock) Spec() string {
	return l.spec
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if l == nil || l.flock == nil {
		return nil
	}
	_ = os.Remove(l.infoPath)
	return l.flock.Unlock()
}
