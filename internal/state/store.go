package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
)

// FileStore keeps records, history and locks under one directory:
//
//	<dir>/records/<spec>.json
//	<dir>/history/<spec>/<timestamp>-<id>.json
//	<dir>/locks/<spec>.lock
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
}

// NewFileStore creates a new file-based store.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		baseDir: baseDir,
		now:     time.Now,
	}
}

// Dir returns the base directory.
func (fs *FileStore) Dir() string {
	return fs.baseDir
}

// DefaultStateDir returns the default state directory.
func DefaultStateDir() string {
	if dir := os.Getenv("CREDROTATE_STATE_DIR"); dir != "" {
		return dir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "credrotate")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "credrotate")
	}

	return filepath.Join(os.TempDir(), "credrotate")
}

// Load returns the record of spec, or a fresh absent record if none exists.
func (fs *FileStore) Load(spec string) (*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.recordPath(spec))
	if err != nil {
		if os.IsNotExist(err) {
			return NewRecord(spec), nil
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", spec, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state for %s: %w", spec, err)
	}
	rec.normalize()
	return &rec, nil
}

// Save atomically replaces the record and bumps its serial. On failure the
// serial is left unchanged.
func (fs *FileStore) Save(rec *Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, "records")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	next := *rec
	next.Serial = rec.Serial + 1
	next.UpdatedAt = fs.now().UTC()

	data, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := renameio.WriteFile(fs.recordPath(rec.Spec), data, 0600); err != nil {
		return fmt.Errorf("failed to write state for %s: %w", rec.Spec, err)
	}

	rec.Serial = next.Serial
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Specs lists the specs that have a record.
func (fs *FileStore) Specs() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	files, err := os.ReadDir(filepath.Join(fs.baseDir, "records"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var specs []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		specs = append(specs, strings.TrimSuffix(f.Name(), ".json"))
	}
	sort.Strings(specs)
	return specs, nil
}

func (fs *FileStore) recordPath(spec string) string {
	return filepath.Join(fs.baseDir, "records", sanitizeFilename(spec)+".json")
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
