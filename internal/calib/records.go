// Package calib defines the calibration records produced by the mono and
// stereo calibration stages and the file store that persists them between
// pipeline invocations.
package calib

import (
	"gonum.org/v1/gonum/mat"
)

// CalibrationRecord holds one camera's intrinsic parameters as estimated by
// the calibration solver. The camera matrix is stored row-major.
type CalibrationRecord struct {
	CameraMatrix []float64 `json:"camera_matrix"`
	Distortion   []float64 `json:"distortion_coefficients"`
	ImageWidth   int       `json:"image_width"`
	ImageHeight  int       `json:"image_height"`
	// ReprojectionError is the solver-reported RMS error in pixels. It is
	// stored opaquely and never recomputed by the store.
	ReprojectionError float64 `json:"reprojection_error"`
	CalibratedAt      string  `json:"calibration_time,omitempty"`
}

// K returns the 3x3 intrinsic matrix, or nil when the record is malformed.
func (r *CalibrationRecord) K() *mat.Dense {
	if len(r.CameraMatrix) != 9 {
		return nil
	}
	return mat.NewDense(3, 3, append([]float64(nil), r.CameraMatrix...))
}

// Validate reports whether the record carries the fields a load must
// guarantee: a full camera matrix and a non-empty distortion vector.
func (r *CalibrationRecord) Validate() error {
	if len(r.CameraMatrix) != 9 {
		return ErrMalformed
	}
	if len(r.Distortion) == 0 {
		return ErrMalformed
	}
	if r.CameraMatrix[0] <= 0 || r.CameraMatrix[4] <= 0 {
		return ErrMalformed
	}
	return nil
}

// StereoCalibrationRecord relates the two camera frames. R and T map
// left-camera coordinates into the right camera's frame.
type StereoCalibrationRecord struct {
	Left  CalibrationRecord `json:"left"`
	Right CalibrationRecord `json:"right"`

	Rotation    []float64 `json:"rotation_matrix"`
	Translation []float64 `json:"translation_vector"`
	Essential   []float64 `json:"essential_matrix"`
	Fundamental []float64 `json:"fundamental_matrix"`

	ImageWidth        int     `json:"image_width"`
	ImageHeight       int     `json:"image_height"`
	ReprojectionError float64 `json:"reprojection_error"`
	CalibratedAt      string  `json:"calibration_time,omitempty"`
}

// R returns the 3x3 inter-camera rotation, or nil when malformed.
func (r *StereoCalibrationRecord) R() *mat.Dense {
	if len(r.Rotation) != 9 {
		return nil
	}
	return mat.NewDense(3, 3, append([]float64(nil), r.Rotation...))
}

// Validate checks the keys a stereo load must guarantee.
func (r *StereoCalibrationRecord) Validate() error {
	if err := r.Left.Validate(); err != nil {
		return err
	}
	if err := r.Right.Validate(); err != nil {
		return err
	}
	if len(r.Rotation) != 9 || len(r.Translation) != 3 {
		return ErrMalformed
	}
	return nil
}

// ROI is a valid-pixel region of a rectified image.
type ROI struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RectificationRecord holds the rectification transforms derived from a
// stereo calibration: per-camera rectification rotations R1/R2, per-camera
// 3x4 projection matrices P1/P2 and the 4x4 disparity-to-depth matrix Q.
type RectificationRecord struct {
	R1 []float64 `json:"r1"`
	R2 []float64 `json:"r2"`
	P1 []float64 `json:"p1"`
	P2 []float64 `json:"p2"`
	Q  []float64 `json:"q"`

	LeftROI  ROI `json:"left_roi"`
	RightROI ROI `json:"right_roi"`
}

// Validate checks the matrix shapes a rectification load must guarantee.
func (r *RectificationRecord) Validate() error {
	if len(r.R1) != 9 || len(r.R2) != 9 {
		return ErrMalformed
	}
	if len(r.P1) != 12 || len(r.P2) != 12 {
		return ErrMalformed
	}
	if len(r.Q) != 16 {
		return ErrMalformed
	}
	return nil
}
