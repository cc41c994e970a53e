package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
)

const historyTimeLayout = "20060102-150405"

// HistoryEntry represents a single reconciliation pass
type HistoryEntry struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Spec       string        `json:"spec"`
	Action     string        `json:"action"` // evaluate, plan, apply, rotate
	Status     string        `json:"status"` // success, failed, noop
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	EpochID    uint64        `json:"epoch_id,omitempty"`
	Binding    string        `json:"binding,omitempty"`
	OldVersion string        `json:"old_version,omitempty"`
	NewVersion string        `json:"new_version,omitempty"`
	PlanID     string        `json:"plan_id,omitempty"`
	Steps      []StepResult  `json:"steps,omitempty"`
}

// StepResult represents the result of a single provisioning action
type StepResult struct {
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// AppendHistory saves a history entry, assigning an ID and timestamp if unset.
func (fs *FileStore) AppendHistory(entry *HistoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, "history", sanitizeFilename(entry.Spec))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = fs.now().UTC()
	}

	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format(historyTimeLayout), entry.ID)
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// History returns up to limit entries for spec, newest first. A limit of
// zero or less returns everything.
func (fs *FileStore) History(spec string, limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readHistory(filepath.Join(fs.baseDir, "history", sanitizeFilename(spec)), limit)
}

// AllHistory returns history across all specs, newest first.
func (fs *FileStore) AllHistory(limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	root := filepath.Join(fs.baseDir, "history")
	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var all []HistoryEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entries, err := fs.readHistory(filepath.Join(root, d.Name()), 0)
		if err != nil {
			continue
		}
		all = append(all, entries...)
	}

	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CleanupHistory removes entries older than olderThan and returns how many
// were removed.
func (fs *FileStore) CleanupHistory(olderThan time.Duration) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := fs.now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(filepath.Join(fs.baseDir, "history"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		name := d.Name()
		if len(name) < len(historyTimeLayout) {
			return nil
		}
		ts, err := time.Parse(historyTimeLayout, name[:len(historyTimeLayout)])
		if err != nil || !ts.Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	return removed, err
}

func (fs *FileStore) readHistory(dir string, limit int) ([]HistoryEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(files))
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue // Skip files that can't be read
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue // Skip invalid JSON files
		}
		entries = append(entries, entry)
	}

	sortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func sortNewestFirst(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
