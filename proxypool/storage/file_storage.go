package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/proxypool/model"
)

// Storage persists the working proxies of a finished run.
type Storage interface {
	Load() ([]model.WorkingProxyRecord, error)
	Save(records []model.WorkingProxyRecord) error
	Path() string
}

// FileStorage stores records as an indented JSON array.
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

func (fs *FileStorage) Path() string {
	return fs.filePath
}

// Load reads the result file. A missing file is an empty result set.
func (fs *FileStorage) Load() ([]model.WorkingProxyRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.WorkingProxyRecord{}, nil
		}
		return nil, err
	}

	records := make([]model.WorkingProxyRecord, 0)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fs.filePath, err)
	}
	return records, nil
}

// Save replaces the result file. The data is written to a temporary file in
// the same directory and renamed over the target, so readers never observe a
// partial document.
func (fs *FileStorage) Save(records []model.WorkingProxyRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	if records == nil {
		records = []model.WorkingProxyRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", fs.filePath, err)
	}

	l.Info().Int("count", len(records)).Str("path", fs.filePath).Msg("Successfully saved working proxies to file.")
	return nil
}
