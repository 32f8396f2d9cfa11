package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parallax-vision/stereopipe/internal/timeutil"
)

// Store persists calibration records as JSON files, one record per file.
// The clock is injected so saved timestamps stay deterministic in tests.
type Store struct {
	Clock timeutil.Clock
}

// NewStore returns a store stamping records with the wall clock.
func NewStore() *Store {
	return &Store{Clock: timeutil.RealClock{}}
}

// SaveCamera writes a mono calibration record, creating parent directories.
// The record's CalibratedAt field is overwritten with the store's clock.
func (s *Store) SaveCamera(rec *CalibrationRecord, path string) error {
	rec.CalibratedAt = s.Clock.Now().Format(time.RFC1123)
	return s.write(rec, path)
}

// LoadCamera reads a mono calibration record. The load is all-or-nothing:
// an absent file yields ErrNotFound and a file missing required keys yields
// ErrMalformed; no partially populated record is ever returned.
func (s *Store) LoadCamera(path string) (*CalibrationRecord, error) {
	var rec CalibrationRecord
	if err := s.read(path, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rec, nil
}

// SaveStereo writes a stereo calibration record, creating parent directories.
func (s *Store) SaveStereo(rec *StereoCalibrationRecord, path string) error {
	rec.CalibratedAt = s.Clock.Now().Format(time.RFC1123)
	return s.write(rec, path)
}

// LoadStereo reads a stereo calibration record, all-or-nothing.
func (s *Store) LoadStereo(path string) (*StereoCalibrationRecord, error) {
	var rec StereoCalibrationRecord
	if err := s.read(path, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rec, nil
}

// SaveRectification writes a rectification record.
func (s *Store) SaveRectification(rec *RectificationRecord, path string) error {
	return s.write(rec, path)
}

// LoadRectification reads a rectification record, all-or-nothing.
func (s *Store) LoadRectification(path string) (*RectificationRecord, error) {
	var rec RectificationRecord
	if err := s.read(path, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rec, nil
}

func (s *Store) write(v any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", path, err)
	}
	return nil
}

func (s *Store) read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("read record %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, ErrMalformed)
	}
	return nil
}
