package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eddielth/msghub-e2e/logger"
)

// FileStore keeps the properties of each interface in <dir>/<iface>.json
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates the directory if needed
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init file property store: %s", basePath)
	return &FileStore{basePath: basePath}, nil
}

func (fs *FileStore) filename(iface string) string {
	return filepath.Join(fs.basePath, iface+".json")
}

func (fs *FileStore) read(iface string) (map[string][]byte, error) {
	props := make(map[string][]byte)
	raw, err := os.ReadFile(fs.filename(iface))
	if errors.Is(err, os.ErrNotExist) {
		return props, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", fs.filename(iface), err)
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", fs.filename(iface), err)
	}
	return props, nil
}

func (fs *FileStore) write(iface string, props map[string][]byte) error {
	filename := fs.filename(iface)
	if len(props) == 0 {
		if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s failed: %w", filename, err)
		}
		return nil
	}

	jsonData, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize properties failed: %w", err)
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0o644); err != nil {
		return fmt.Errorf("write file %s failed: %w", tmp, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("rename %s failed: %w", tmp, err)
	}
	return nil
}

// Save implements Backend
func (fs *FileStore) Save(_ context.Context, iface, path string, payload []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	props, err := fs.read(iface)
	if err != nil {
		return err
	}
	props[path] = payload
	if err := fs.write(iface, props); err != nil {
		return err
	}

	logger.Debug("stored property %s%s", iface, path)
	return nil
}

// Delete implements Backend
func (fs *FileStore) Delete(_ context.Context, iface, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	props, err := fs.read(iface)
	if err != nil {
		return err
	}
	if _, ok := props[path]; !ok {
		return nil
	}
	delete(props, path)
	if err := fs.write(iface, props); err != nil {
		return err
	}

	logger.Debug("deleted property %s%s", iface, path)
	return nil
}

// Load implements Backend
func (fs *FileStore) Load(_ context.Context, iface string) (map[string][]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.read(iface)
}

// Close implements Backend
func (fs *FileStore) Close() error {
	return nil
}
