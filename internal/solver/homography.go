// Package solver estimates camera intrinsics and stereo geometry from
// chessboard correspondences using Zhang's method with Levenberg-Marquardt
// refinement.
package solver

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

var (
	// ErrInsufficientData marks too few views or points for a solve.
	ErrInsufficientData = errors.New("solver: insufficient calibration data")
	// ErrMismatchedData marks parallel arrays of unequal length.
	ErrMismatchedData = errors.New("solver: mismatched correspondence counts")
	errDegenerate     = errors.New("solver: degenerate configuration")
)

// buildA stacks the two DLT constraint rows contributed by each
// image/board point pair: each pairing (x,y) <-> (X,Y) gives
// [-X -Y -1 0 0 0 xX xY x] and [0 0 0 -X -Y -1 yX yY y].
func buildA(imagePts []geometry.Point2, boardPts []r3.Vector) (*mat.Dense, error) {
	if len(imagePts) < 4 || len(imagePts) != len(boardPts) {
		return nil, ErrInsufficientData
	}
	data := make([]float64, 0, 18*len(imagePts))
	for i := range imagePts {
		x, y := imagePts[i].X, imagePts[i].Y
		bx, by := boardPts[i].X, boardPts[i].Y
		data = append(data,
			-bx, -by, -1, 0, 0, 0, x*bx, x*by, x,
			0, 0, 0, -bx, -by, -1, y*bx, y*by, y,
		)
	}
	return mat.NewDense(2*len(imagePts), 9, data), nil
}

// homography solves A*h = 0 for the 3x3 plane homography via the SVD of A,
// normalized so h[2][2] == 1.
func homography(imagePts []geometry.Point2, boardPts []r3.Vector) (*mat.Dense, error) {
	a, err := buildA(imagePts, boardPts)
	if err != nil {
		return nil, err
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	// Right singular vector of the smallest singular value: the last
	// column of V.
	_, c := v.Dims()
	h := make([]float64, 9)
	for i := 0; i < 9; i++ {
		h[i] = v.At(i, c-1)
	}
	if math.Abs(h[8]) < 1e-15 {
		return nil, errDegenerate
	}
	for i := range h {
		h[i] /= h[8]
	}
	return mat.NewDense(3, 3, h), nil
}

// vij builds the Zhang constraint vector from two homography columns.
func vij(h *mat.Dense, i, j int) []float64 {
	hi := h.ColView(i)
	hj := h.ColView(j)
	return []float64{
		hi.AtVec(0) * hj.AtVec(0),
		hi.AtVec(0)*hj.AtVec(1) + hi.AtVec(1)*hj.AtVec(0),
		hi.AtVec(1) * hj.AtVec(1),
		hi.AtVec(2)*hj.AtVec(0) + hi.AtVec(0)*hj.AtVec(2),
		hi.AtVec(2)*hj.AtVec(1) + hi.AtVec(1)*hj.AtVec(2),
		hi.AtVec(2) * hj.AtVec(2),
	}
}

// intrinsicsFromHomographies recovers the closed-form intrinsic matrix from
// at least three view homographies (Zhang, appendix B).
func intrinsicsFromHomographies(hs []*mat.Dense) (*mat.Dense, error) {
	if len(hs) < 3 {
		return nil, ErrInsufficientData
	}
	data := make([]float64, 0, 12*len(hs))
	for _, h := range hs {
		v12 := vij(h, 0, 1)
		v11 := vij(h, 0, 0)
		v22 := vij(h, 1, 1)
		data = append(data, v12...)
		for i := range v11 {
			data = append(data, v11[i]-v22[i])
		}
	}
	v := mat.NewDense(2*len(hs), 6, data)

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDThin); !ok {
		return nil, errDegenerate
	}
	var vv mat.Dense
	svd.VTo(&vv)
	_, c := vv.Dims()
	b := make([]float64, 6)
	for i := range b {
		b[i] = vv.At(i, c-1)
	}

	den := b[0]*b[2] - b[1]*b[1]
	if math.Abs(den) < 1e-18 || math.Abs(b[0]) < 1e-18 {
		return nil, errDegenerate
	}
	v0 := (b[1]*b[3] - b[0]*b[4]) / den
	lam := b[5] - (b[3]*b[3]+v0*(b[1]*b[3]-b[0]*b[4]))/b[0]
	alpha := math.Sqrt(math.Abs(lam / b[0]))
	beta := math.Sqrt(math.Abs(lam * b[0] / den))
	gamma := -b[1] * alpha * alpha * beta / lam
	u0 := gamma*v0/beta - b[3]*alpha*alpha/lam

	if alpha <= 0 || beta <= 0 || math.IsNaN(u0) || math.IsNaN(v0) {
		return nil, errDegenerate
	}
	// Skew is dropped: the refinement stage models zero-skew cameras.
	return geometry.CameraMatrix(alpha, beta, u0, v0), nil
}

// poseFromHomography extracts the board pose for one view given the
// intrinsics: r1 = l*K^-1*h1, r2 = l*K^-1*h2, r3 = r1 x r2, t = l*K^-1*h3.
func poseFromHomography(h, k *mat.Dense) (rvec, tvec r3.Vector, err error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return rvec, tvec, errDegenerate
	}
	var m mat.Dense
	m.Mul(&kInv, h)

	col := func(j int) r3.Vector {
		return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
	}
	r1, r2, h3 := col(0), col(1), col(2)
	norm := r1.Norm()
	if norm < 1e-15 {
		return rvec, tvec, errDegenerate
	}
	lam := 1 / norm
	// The board must sit in front of the camera.
	if h3.Z*lam < 0 {
		lam = -lam
	}
	r1 = r1.Mul(lam)
	r2 = r2.Mul(lam)
	r3v := r1.Cross(r2)
	t := h3.Mul(lam)

	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	ortho, err := geometry.Orthonormalize(rot)
	if err != nil {
		return rvec, tvec, err
	}
	return geometry.RodriguesVector(ortho), t, nil
}
