package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// FileStore keeps the checkpoint in a single JSON file.
type FileStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewFileStore returns a file-backed store writing to path. Parent directories are created on save.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	return &FileStore{
		path:   filepath.Clean(path),
		logger: nopIfNil(logger),
		now:    time.Now,
	}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A corrupt file is renamed aside so the next save does not clobber it.
func (s *FileStore) Load(_ context.Context) (*harvest.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return harvest.NewRecord(), nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}
	record, ok := decodeOrEmpty(s.logger, s.path, data)
	if !ok {
		s.quarantine()
	}
	return record, nil
}

func (s *FileStore) quarantine() {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, target); err != nil {
		s.logger.Warn("Failed to move corrupt checkpoint aside", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Warn("Moved corrupt checkpoint aside", zap.String("path", target))
}

// Save writes the snapshot to a temp file, syncs it and renames it over the previous one.
func (s *FileStore) Save(_ context.Context, record *harvest.Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("Failed to remove temp checkpoint", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file. Clearing a missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
