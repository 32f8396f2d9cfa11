package solver

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

// StereoResult relates the two camera frames: x_right = R * x_left + T.
// The essential and fundamental matrices are derived from R and T.
type StereoResult struct {
	Rotation    []float64
	Translation []float64
	Essential   []float64
	Fundamental []float64
	RMS         float64
}

// R returns the 3x3 inter-camera rotation.
func (s *StereoResult) R() *mat.Dense {
	return geometry.Mat3(s.Rotation)
}

// CalibrateStereo estimates the rigid transform between the two cameras
// from paired chessboard views, holding both cameras' intrinsics fixed
// (they come from the mono calibration stage). objectPoints, leftPoints and
// rightPoints must be index-aligned per view.
func CalibrateStereo(
	objectPoints [][]r3.Vector,
	leftPoints, rightPoints [][]geometry.Point2,
	leftK, rightK *mat.Dense,
	leftDist, rightDist []float64,
) (*StereoResult, error) {
	views := len(objectPoints)
	if len(leftPoints) != views || len(rightPoints) != views {
		return nil, fmt.Errorf("%w: %d object sets vs %d left / %d right image sets",
			ErrMismatchedData, views, len(leftPoints), len(rightPoints))
	}
	if views == 0 {
		return nil, fmt.Errorf("%w: no views", ErrInsufficientData)
	}
	totalPoints := 0
	for i := 0; i < views; i++ {
		if len(objectPoints[i]) != len(leftPoints[i]) || len(objectPoints[i]) != len(rightPoints[i]) {
			return nil, fmt.Errorf("%w: view %d point counts differ", ErrMismatchedData, i)
		}
		totalPoints += len(objectPoints[i])
	}

	// Initialize per-view board poses in each camera, then average the
	// per-view relative transforms.
	leftR := make([]r3.Vector, views)
	leftT := make([]r3.Vector, views)
	sumR := mat.NewDense(3, 3, nil)
	var sumT r3.Vector
	for i := 0; i < views; i++ {
		hl, err := homography(leftPoints[i], objectPoints[i])
		if err != nil {
			return nil, fmt.Errorf("view %d left homography: %w", i, err)
		}
		hr, err := homography(rightPoints[i], objectPoints[i])
		if err != nil {
			return nil, fmt.Errorf("view %d right homography: %w", i, err)
		}
		rl, tl, err := poseFromHomography(hl, leftK)
		if err != nil {
			return nil, fmt.Errorf("view %d left pose: %w", i, err)
		}
		rr, tr, err := poseFromHomography(hr, rightK)
		if err != nil {
			return nil, fmt.Errorf("view %d right pose: %w", i, err)
		}
		leftR[i], leftT[i] = rl, tl

		rotL := geometry.Rodrigues(rl)
		rotR := geometry.Rodrigues(rr)
		var rel mat.Dense
		rel.Mul(rotR, rotL.T())
		sumR.Add(sumR, &rel)
		sumT = sumT.Add(tr.Sub(geometry.RotatePoint(&rel, tl)))
	}
	avgR, err := geometry.Orthonormalize(sumR)
	if err != nil {
		return nil, fmt.Errorf("rotation averaging: %w", err)
	}
	relRvec := geometry.RodriguesVector(avgR)
	relT := sumT.Mul(1 / float64(views))

	// Joint refinement of the relative transform and the per-view left
	// poses against both cameras' reprojections.
	params := make([]float64, 6+6*views)
	params[0], params[1], params[2] = relRvec.X, relRvec.Y, relRvec.Z
	params[3], params[4], params[5] = relT.X, relT.Y, relT.Z
	for i := 0; i < views; i++ {
		base := 6 + 6*i
		params[base+0], params[base+1], params[base+2] = leftR[i].X, leftR[i].Y, leftR[i].Z
		params[base+3], params[base+4], params[base+5] = leftT[i].X, leftT[i].Y, leftT[i].Z
	}

	ldist := geometry.DistortionFromSlice(leftDist)
	rdist := geometry.DistortionFromSlice(rightDist)
	residuals := func(dst, x []float64) {
		stereoResiduals(dst, x, objectPoints, leftPoints, rightPoints, leftK, rightK, ldist, rdist)
	}
	jac := lm.NumJac{Func: residuals}
	problem := lm.LMProblem{
		Dim:        len(params),
		Size:       4 * totalPoints,
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

	rvec := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
	tvec := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
	rot := geometry.Rodrigues(rvec)

	var essential mat.Dense
	essential.Mul(geometry.CrossMatrix(tvec), rot)
	fundamental, err := fundamentalFromEssential(&essential, leftK, rightK)
	if err != nil {
		return nil, err
	}

	dst := make([]float64, 4*totalPoints)
	stereoResiduals(dst, x, objectPoints, leftPoints, rightPoints, leftK, rightK, ldist, rdist)

	res := &StereoResult{
		Rotation:    geometry.Flatten9(rot),
		Translation: []float64{tvec.X, tvec.Y, tvec.Z},
		Essential:   geometry.Flatten9(&essential),
		Fundamental: geometry.Flatten9(fundamental),
		RMS:         rmsFromResiduals(dst),
	}
	return res, nil
}

// stereoResiduals writes, per point, the left-camera then right-camera
// reprojection residuals (x and y each), four entries per point.
func stereoResiduals(
	dst, x []float64,
	objectPoints [][]r3.Vector,
	leftPoints, rightPoints [][]geometry.Point2,
	leftK, rightK *mat.Dense,
	leftDist, rightDist geometry.Distortion,
) {
	relRot := geometry.Rodrigues(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
	relT := r3.Vector{X: x[3], Y: x[4], Z: x[5]}

	idx := 0
	for v := range objectPoints {
		base := 6 + 6*v
		rl := r3.Vector{X: x[base], Y: x[base+1], Z: x[base+2]}
		tl := r3.Vector{X: x[base+3], Y: x[base+4], Z: x[base+5]}
		rotL := geometry.Rodrigues(rl)

		// Right pose is the left pose composed with the relative
		// transform.
		var rotR mat.Dense
		rotR.Mul(relRot, rotL)
		tr := geometry.RotatePoint(relRot, tl).Add(relT)

		for i, obj := range objectPoints[v] {
			pl := geometry.ProjectPoint(obj, rotL, tl, leftK, leftDist)
			pr := geometry.ProjectPoint(obj, &rotR, tr, rightK, rightDist)
			dst[idx] = leftPoints[v][i].X - pl.X
			dst[idx+1] = leftPoints[v][i].Y - pl.Y
			dst[idx+2] = rightPoints[v][i].X - pr.X
			dst[idx+3] = rightPoints[v][i].Y - pr.Y
			idx += 4
		}
	}
}

// fundamentalFromEssential maps E to pixel space: F = Kr^-T * E * Kl^-1,
// normalized so F[2][2] == 1 when possible.
func fundamentalFromEssential(e, leftK, rightK *mat.Dense) (*mat.Dense, error) {
	var klInv, krInv mat.Dense
	if err := klInv.Inverse(leftK); err != nil {
		return nil, errDegenerate
	}
	if err := krInv.Inverse(rightK); err != nil {
		return nil, errDegenerate
	}
	var tmp, f mat.Dense
	tmp.Mul(krInv.T(), e)
	f.Mul(&tmp, &klInv)
	if s := f.At(2, 2); math.Abs(s) > 1e-15 {
		f.Scale(1/s, &f)
	}
	out := mat.NewDense(3, 3, nil)
	out.Copy(&f)
	return out, nil
}
