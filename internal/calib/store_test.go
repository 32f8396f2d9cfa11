package calib

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-vision/stereopipe/internal/timeutil"
)

func testRecord() *CalibrationRecord {
	return &CalibrationRecord{
		CameraMatrix:      []float64{800, 0, 320, 0, 800, 240, 0, 0, 1},
		Distortion:        []float64{0.1, -0.05, 0.001, -0.002, 0.01},
		ImageWidth:        640,
		ImageHeight:       480,
		ReprojectionError: 0.42,
	}
}

func TestCameraRoundTrip(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "camera_calibration.json")

	require.NoError(t, store.SaveCamera(testRecord(), path))
	got, err := store.LoadCamera(path)
	require.NoError(t, err)

	assert.Equal(t, testRecord().CameraMatrix, got.CameraMatrix)
	assert.Equal(t, testRecord().Distortion, got.Distortion)
	assert.Equal(t, 640, got.ImageWidth)
	assert.Equal(t, 0.42, got.ReprojectionError)
	assert.NotEmpty(t, got.CalibratedAt)
}

func TestSaveStampsInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	store := &Store{Clock: timeutil.NewMockClock(fixed)}
	path := filepath.Join(t.TempDir(), "camera_calibration.json")

	require.NoError(t, store.SaveCamera(testRecord(), path))
	got, err := store.LoadCamera(path)
	require.NoError(t, err)
	assert.Equal(t, fixed.Format(time.RFC1123), got.CalibratedAt)
}

func TestLoadMissingFile(t *testing.T) {
	store := NewStore()
	_, err := store.LoadCamera(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStore().LoadCamera(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	// Parseable JSON without a camera matrix must fail as malformed, not
	// come back partially populated.
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"image_width": 640}`), 0o644))

	rec, err := NewStore().LoadCamera(path)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestLoadMissingDistortion(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "nodist.json")
	rec := testRecord()
	rec.Distortion = nil
	require.NoError(t, store.write(rec, path))

	_, err := store.LoadCamera(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestStereoRoundTrip(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "stereo_calibration.json")

	rec := &StereoCalibrationRecord{
		Left:              *testRecord(),
		Right:             *testRecord(),
		Rotation:          []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Translation:       []float64{-60, 0, 0},
		Essential:         make([]float64, 9),
		Fundamental:       make([]float64, 9),
		ImageWidth:        640,
		ImageHeight:       480,
		ReprojectionError: 0.77,
	}
	require.NoError(t, store.SaveStereo(rec, path))

	got, err := store.LoadStereo(path)
	require.NoError(t, err)
	assert.Equal(t, rec.Rotation, got.Rotation)
	assert.Equal(t, rec.Translation, got.Translation)
	assert.Equal(t, rec.Left.CameraMatrix, got.Left.CameraMatrix)
	require.NotNil(t, got.R())
	assert.Equal(t, 1.0, got.R().At(0, 0))
}

func TestStereoMissingRotation(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "stereo_calibration.json")
	rec := &StereoCalibrationRecord{Left: *testRecord(), Right: *testRecord()}
	require.NoError(t, store.write(rec, path))

	_, err := store.LoadStereo(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRectificationRoundTrip(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "stereo_rectify.json")

	rec := &RectificationRecord{
		R1:       []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		R2:       []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		P1:       make([]float64, 12),
		P2:       make([]float64, 12),
		Q:        make([]float64, 16),
		LeftROI:  ROI{Width: 640, Height: 480},
		RightROI: ROI{X: 4, Y: 2, Width: 630, Height: 470},
	}
	require.NoError(t, store.SaveRectification(rec, path))

	got, err := store.LoadRectification(path)
	require.NoError(t, err)
	assert.Equal(t, rec.R1, got.R1)
	assert.Equal(t, rec.RightROI, got.RightROI)
}

func TestRectificationBadShapes(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "stereo_rectify.json")
	rec := &RectificationRecord{Q: []float64{1, 2, 3}}
	require.NoError(t, store.write(rec, path))

	_, err := store.LoadRectification(path)
	assert.ErrorIs(t, err, ErrMalformed)
}
