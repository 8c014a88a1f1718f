// Package file keeps watermarks in a flat JSON file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"insta_relay/internal/domain"
)

type WatermarkStore struct {
	path   string
	logger *slog.Logger
}

func NewWatermarkStore(path string, logger *slog.Logger) *WatermarkStore {
	return &WatermarkStore{
		path:   path,
		logger: logger.With("state_path", path),
	}
}

// Load returns the stored watermarks. A missing file is empty state; so is a
// file that does not decode, which will be overwritten by the next Save.
func (s *WatermarkStore) Load(_ context.Context) (domain.Watermarks, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no state file, starting empty")
		return domain.Watermarks{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state domain.Watermarks
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("malformed state file, starting empty", "error", err)
		return domain.Watermarks{}, nil
	}
	if state == nil {
		state = domain.Watermarks{}
	}
	return state, nil
}

// Save replaces the file with the full map. The write goes to a temporary
// file first and is renamed into place.
func (s *WatermarkStore) Save(_ context.Context, state domain.Watermarks) error {
	if state == nil {
		state = domain.Watermarks{}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// WriteAtomic writes data next to path and renames it over path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
