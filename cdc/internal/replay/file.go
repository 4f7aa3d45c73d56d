package replay

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every cursor in one flat JSON object. Each Set rewrites the
// whole file through a temp file and rename, so a crash leaves either the old
// or the new content.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The parent directory is
// created if needed; the file itself is created on first Set.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, storeErr("open", errors.New("path is empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeErr("create directory", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, channel string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	token, ok := m[channel]
	return token, ok, nil
}

func (s *FileStore) Set(_ context.Context, channel, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[channel] = token
	return s.write(m)
}

func (s *FileStore) GetAll(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *FileStore) Clear(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channel == "" {
		return s.write(map[string]string{})
	}
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[channel]; !ok {
		return nil
	}
	delete(m, channel)
	return s.write(m)
}

func (s *FileStore) Close() error { return nil }

// load must be called with mu held.
func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, storeErr("read", err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storeErr("decode", err)
	}
	return m, nil
}

// write must be called with mu held.
func (s *FileStore) write(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return storeErr("encode", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return storeErr("create temp", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return storeErr("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return storeErr("sync temp", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return storeErr("close temp", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return storeErr("rename", err)
	}
	return nil
}
