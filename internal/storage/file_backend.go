package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend implements the token store on local JSON files. Records are kept
// in memory and written through on every mutation.
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	tokens  map[string]map[string]interface{}
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{
		baseDir: baseDir,
		tokens:  make(map[string]map[string]interface{}),
	}
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	dir := filepath.Join(f.baseDir, "tokens")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return f.loadAll(dir)
}

func (f *FileBackend) loadAll(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read token file %s: %w", entry.Name(), err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse token file %s: %w", entry.Name(), err)
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		f.tokens[id] = doc
	}
	return nil
}

func (f *FileBackend) Close() error {
	return nil
}

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.baseDir)
	return err
}

func (f *FileBackend) GetToken(ctx context.Context, id string) (map[string]interface{}, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	doc, exists := f.tokens[id]
	if !exists {
		return nil, &ErrNotFound{Key: id}
	}
	return copyDoc(doc), nil
}

func (f *FileBackend) SetToken(ctx context.Context, id string, doc map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("empty token id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cloned := copyDoc(doc)
	f.tokens[id] = cloned
	return f.saveToken(id, cloned)
}

func (f *FileBackend) DeleteToken(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tokens[id]; !ok {
		return &ErrNotFound{Key: id}
	}
	delete(f.tokens, id)

	path := filepath.Join(f.baseDir, "tokens", id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileBackend) ListTokens(ctx context.Context) (map[string]map[string]interface{}, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]map[string]interface{}, len(f.tokens))
	for id, doc := range f.tokens {
		out[id] = copyDoc(doc)
	}
	return out, nil
}

func (f *FileBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return StorageStats{
		Backend:    "file",
		Healthy:    f.Health(ctx) == nil,
		TokenCount: len(f.tokens),
	}, nil
}

func (f *FileBackend) saveToken(id string, doc map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token %s: %w", id, err)
	}
	path := filepath.Join(f.baseDir, "tokens", id+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
