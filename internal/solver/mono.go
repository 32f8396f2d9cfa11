package solver

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

// MonoResult is the output of a single-camera calibration: intrinsics,
// distortion, one board pose per view and the RMS reprojection error.
type MonoResult struct {
	CameraMatrix []float64
	Distortion   []float64
	Rotations    []r3.Vector
	Translations []r3.Vector
	RMS          float64
}

// K returns the intrinsic matrix of the result.
func (m *MonoResult) K() *mat.Dense {
	return geometry.Mat3(m.CameraMatrix)
}

const monoIntrinsicParams = 9 // fx, fy, cx, cy, k1, k2, p1, p2, k3

// CalibrateMono estimates intrinsics, distortion and per-view board poses
// from chessboard correspondences. objectPoints holds the board-frame 3D
// points per view, imagePoints the detected pixel positions per view; the
// two must be index-aligned. At least three views are required.
func CalibrateMono(objectPoints [][]r3.Vector, imagePoints [][]geometry.Point2) (*MonoResult, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, fmt.Errorf("%w: %d object sets vs %d image sets",
			ErrMismatchedData, len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 views, got %d",
			ErrInsufficientData, len(objectPoints))
	}
	totalPoints := 0
	for i := range objectPoints {
		if len(objectPoints[i]) != len(imagePoints[i]) {
			return nil, fmt.Errorf("%w: view %d has %d object vs %d image points",
				ErrMismatchedData, i, len(objectPoints[i]), len(imagePoints[i]))
		}
		totalPoints += len(objectPoints[i])
	}

	// Closed-form initialization: per-view DLT homographies, then Zhang's
	// intrinsic constraints, then per-view poses.
	hs := make([]*mat.Dense, len(imagePoints))
	for i := range imagePoints {
		h, err := homography(imagePoints[i], objectPoints[i])
		if err != nil {
			return nil, fmt.Errorf("view %d homography: %w", i, err)
		}
		hs[i] = h
	}
	k, err := intrinsicsFromHomographies(hs)
	if err != nil {
		return nil, fmt.Errorf("intrinsic initialization: %w", err)
	}

	views := len(imagePoints)
	params := make([]float64, monoIntrinsicParams+6*views)
	params[0] = k.At(0, 0)
	params[1] = k.At(1, 1)
	params[2] = k.At(0, 2)
	params[3] = k.At(1, 2)
	// Distortion starts at zero.
	for i, h := range hs {
		rvec, tvec, err := poseFromHomography(h, k)
		if err != nil {
			return nil, fmt.Errorf("view %d pose: %w", i, err)
		}
		base := monoIntrinsicParams + 6*i
		params[base+0], params[base+1], params[base+2] = rvec.X, rvec.Y, rvec.Z
		params[base+3], params[base+4], params[base+5] = tvec.X, tvec.Y, tvec.Z
	}

	residuals := func(dst, x []float64) {
		monoResiduals(dst, x, objectPoints, imagePoints)
	}
	jac := lm.NumJac{Func: residuals}
	problem := lm.LMProblem{
		Dim:        len(params),
		Size:       2 * totalPoints,
		Func:       residuals,
		Jac:        jac.Jac,
		InitParams: params,
		Tau:        1e-6,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}
	refined, err := lm.LM(problem, &lm.Settings{Iterations: 100, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, fmt.Errorf("refinement: %w", err)
	}
	x := refined.X

	res := &MonoResult{
		CameraMatrix: geometry.Flatten9(geometry.CameraMatrix(x[0], x[1], x[2], x[3])),
		Distortion:   append([]float64(nil), x[4:9]...),
		Rotations:    make([]r3.Vector, views),
		Translations: make([]r3.Vector, views),
	}
	for i := 0; i < views; i++ {
		base := monoIntrinsicParams + 6*i
		res.Rotations[i] = r3.Vector{X: x[base], Y: x[base+1], Z: x[base+2]}
		res.Translations[i] = r3.Vector{X: x[base+3], Y: x[base+4], Z: x[base+5]}
	}

	dst := make([]float64, 2*totalPoints)
	monoResiduals(dst, x, objectPoints, imagePoints)
	res.RMS = rmsFromResiduals(dst)
	return res, nil
}

// monoResiduals writes the x/y reprojection residuals of every point of
// every view into dst, two entries per point.
func monoResiduals(dst, x []float64, objectPoints [][]r3.Vector, imagePoints [][]geometry.Point2) {
	k := geometry.CameraMatrix(x[0], x[1], x[2], x[3])
	dist := geometry.DistortionFromSlice(x[4:9])
	idx := 0
	for v := range objectPoints {
		base := monoIntrinsicParams + 6*v
		rvec := r3.Vector{X: x[base], Y: x[base+1], Z: x[base+2]}
		tvec := r3.Vector{X: x[base+3], Y: x[base+4], Z: x[base+5]}
		projected := geometry.ProjectPoints(objectPoints[v], rvec, tvec, k, dist)
		for i, p := range projected {
			dst[idx] = imagePoints[v][i].X - p.X
			dst[idx+1] = imagePoints[v][i].Y - p.Y
			idx += 2
		}
	}
}

// rmsFromResiduals folds interleaved x/y residuals into the RMS pixel error.
func rmsFromResiduals(dst []float64) float64 {
	if len(dst) == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(dst); i += 2 {
		sum += dst[i]*dst[i] + dst[i+1]*dst[i+1]
	}
	return math.Sqrt(sum / float64(len(dst)/2))
}
