// Package residual quantifies how well a calibration explains the detected
// chessboard correspondences, per image and across a whole run, and renders
// diagnostic overlays and charts.
package residual

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

// ErrDataMismatch marks parallel calibration arrays of unequal length.
var ErrDataMismatch = errors.New("residual: mismatched correspondence counts")

// ImageResidual holds the reprojection diagnostics for one calibration
// image: the detected points, where the calibration reprojects the board
// points, and the per-point pixel errors.
type ImageResidual struct {
	Detected  []geometry.Point2
	Projected []geometry.Point2
	Errors    []float64
	Average   float64
	Max       float64
}

// Analyze reprojects one image's board points through the given pose and
// intrinsics and measures the pixel distance to each detected point.
func Analyze(
	objectPoints []r3.Vector,
	detected []geometry.Point2,
	rvec, tvec r3.Vector,
	k *mat.Dense,
	dist []float64,
) (*ImageResidual, error) {
	if len(objectPoints) != len(detected) {
		return nil, fmt.Errorf("%w: %d object vs %d detected points",
			ErrDataMismatch, len(objectPoints), len(detected))
	}
	d := geometry.DistortionFromSlice(dist)
	res := &ImageResidual{
		Detected:  detected,
		Projected: geometry.ProjectPoints(objectPoints, rvec, tvec, k, d),
		Errors:    make([]float64, len(detected)),
	}
	total := 0.0
	for i, p := range res.Projected {
		dx := detected[i].X - p.X
		dy := detected[i].Y - p.Y
		e := math.Hypot(dx, dy)
		res.Errors[i] = e
		total += e
		if e > res.Max {
			res.Max = e
		}
	}
	if len(res.Errors) > 0 {
		res.Average = total / float64(len(res.Errors))
	}
	return res, nil
}

// AnalyzeAll runs Analyze for every view of a calibration. The object-point,
// detected-point and pose arrays must all be index-aligned.
func AnalyzeAll(
	objectPoints [][]r3.Vector,
	detected [][]geometry.Point2,
	rvecs, tvecs []r3.Vector,
	k *mat.Dense,
	dist []float64,
) ([]*ImageResidual, error) {
	n := len(objectPoints)
	if len(detected) != n || len(rvecs) != n || len(tvecs) != n {
		return nil, fmt.Errorf("%w: %d object sets, %d detected sets, %d/%d poses",
			ErrDataMismatch, n, len(detected), len(rvecs), len(tvecs))
	}
	out := make([]*ImageResidual, n)
	for i := 0; i < n; i++ {
		r, err := Analyze(objectPoints[i], detected[i], rvecs[i], tvecs[i], k, dist)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// Aggregate folds per-image residuals into the run-wide average: the sum of
// all per-point errors over the total point count.
func Aggregate(images []*ImageResidual) float64 {
	total, count := 0.0, 0
	for _, img := range images {
		for _, e := range img.Errors {
			total += e
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
