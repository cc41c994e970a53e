package provisioning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/systmms/credrotate/pkg/provisioning"
)

// Local keeps resources as JSON documents in a directory. Write-only fields
// are stored as sha256 digests so a demo can tell which password a resource
// was last given without the file ever holding it.
type Local struct {
	dir string
	mu  sync.Mutex
}

type localDocument struct {
	ID            provisioning.ResourceID `json:"id"`
	Type          string                  `json:"type,omitempty"`
	Name          string                  `json:"name"`
	Fields        map[string]string       `json:"fields"`
	SecretDigests map[string]string       `json:"secret_digests,omitempty"`
}

// NewLocal creates a backend rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local provisioning: dir is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create provisioning directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Name implements provisioning.API.
func (l *Local) Name() string {
	return "local"
}

// Dir returns the directory resources are written to.
func (l *Local) Dir() string {
	return l.dir
}

// ID implements provisioning.API.
func (l *Local) ID(spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	return provisioning.DefaultID(spec)
}

// Create implements provisioning.API.
func (l *Local) Create(ctx context.Context, spec provisioning.ResourceSpec) (provisioning.ResourceID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := l.ID(spec)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path(id)); err == nil {
		return "", fmt.Errorf("%w: %s", provisioning.ErrAlreadyExists, id)
	}

	doc := localDocument{
		ID:     id,
		Type:   spec.Type,
		Name:   spec.Name,
		Fields: make(map[string]string, len(spec.Fields)),
	}
	for k, v := range spec.Fields {
		doc.Fields[k] = v
	}
	if len(spec.Secrets) > 0 {
		doc.SecretDigests = make(map[string]string, len(spec.Secrets))
		for k, v := range spec.Secrets {
			doc.SecretDigests[k] = digest(v)
		}
	}
	if err := l.write(doc); err != nil {
		return "", err
	}
	return id, nil
}

// Read implements provisioning.API.
func (l *Local) Read(ctx context.Context, id provisioning.ResourceID) (*provisioning.RemoteState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read(id)
	if err != nil {
		return nil, err
	}
	return doc.state(), nil
}

// Update implements provisioning.API.
func (l *Local) Update(ctx context.Context, id provisioning.ResourceID, fields map[string]string) (*provisioning.RemoteState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read(id)
	if err != nil {
		return nil, err
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		doc.Fields[k] = v
	}
	if err := l.write(*doc); err != nil {
		return nil, err
	}
	return doc.state(), nil
}

// Destroy implements provisioning.API.
func (l *Local) Destroy(ctx context.Context, id provisioning.ResourceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	err := os.Remove(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", provisioning.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to remove resource %s: %w", id, err)
	}
	return nil
}

// SecretMatches reports whether the write-only field of id was last set to value.
func (l *Local) SecretMatches(id provisioning.ResourceID, field, value string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read(id)
	if err != nil {
		return false, err
	}
	return doc.SecretDigests[field] == digest(value), nil
}

// IDs lists the resources currently on disk.
func (l *Local) IDs() ([]provisioning.ResourceID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisioning directory: %w", err)
	}
	var ids []provisioning.ResourceID
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			continue
		}
		var doc localDocument
		if json.Unmarshal(data, &doc) == nil && doc.ID != "" {
			ids = append(ids, doc.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Local) read(id provisioning.ResourceID) (*localDocument, error) {
	data, err := os.ReadFile(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", provisioning.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", id, err)
	}
	var doc localDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse resource %s: %w", id, err)
	}
	return &doc, nil
}

func (l *Local) write(doc localDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resource %s: %w", doc.ID, err)
	}
	if err := renameio.WriteFile(l.path(doc.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write resource %s: %w", doc.ID, err)
	}
	return nil
}

func (l *Local) path(id provisioning.ResourceID) string {
	return filepath.Join(l.dir, sanitizeFilename(string(id))+".json")
}

func (d *localDocument) state() *provisioning.RemoteState {
	fields := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return &provisioning.RemoteState{ID: d.ID, Fields: fields}
}

func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
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
