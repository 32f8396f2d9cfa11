// Package geometry holds the small projective-geometry kernel shared by the
// calibration solver, the rectifier and the residual analyzer: rotation
// parameterization, the Brown-Conrady distortion model and pinhole projection.
package geometry

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Point2 is a 2D pixel coordinate.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distortion holds the Brown-Conrady coefficients in the conventional order
// k1, k2 (radial), p1, p2 (tangential), k3 (radial).
type Distortion struct {
	K1, K2, P1, P2, K3 float64
}

// DistortionFromSlice reads up to five coefficients from d. Shorter slices
// leave the remaining coefficients at zero.
func DistortionFromSlice(d []float64) Distortion {
	var out Distortion
	fields := []*float64{&out.K1, &out.K2, &out.P1, &out.P2, &out.K3}
	for i := 0; i < len(d) && i < len(fields); i++ {
		*fields[i] = d[i]
	}
	return out
}

// Slice returns the five coefficients in k1,k2,p1,p2,k3 order.
func (d Distortion) Slice() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// Apply distorts a normalized image coordinate (x, y).
func (d Distortion) Apply(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Rodrigues converts a rotation vector to a 3x3 rotation matrix.
// The vector direction is the rotation axis and its magnitude the angle.
func Rodrigues(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	k := rvec.Mul(1 / theta)
	c := math.Cos(theta)
	s := math.Sin(theta)
	v := 1 - c

	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	})
}

// RodriguesVector converts a rotation matrix back to its rotation vector.
func RodriguesVector(r mat.Matrix) r3.Vector {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cos := (trace - 1) / 2
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	theta := math.Acos(cos)
	if theta < 1e-12 {
		return r3.Vector{}
	}

	axis := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	sin := math.Sin(theta)
	if math.Abs(sin) < 1e-9 {
		// Angle near pi: recover the axis from the diagonal.
		axis = r3.Vector{
			X: math.Sqrt(math.Max(0, (r.At(0, 0)+1)/2)),
			Y: math.Sqrt(math.Max(0, (r.At(1, 1)+1)/2)),
			Z: math.Sqrt(math.Max(0, (r.At(2, 2)+1)/2)),
		}
		if axis.Norm() == 0 {
			return r3.Vector{}
		}
		return axis.Mul(theta / axis.Norm())
	}
	return axis.Mul(theta / (2 * sin))
}

// RotatePoint applies a 3x3 rotation matrix to p.
func RotatePoint(r mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z,
	}
}

// ProjectPoint maps one 3D point into pixel coordinates through the pose
// (rvec, tvec), the camera matrix k and the distortion model.
func ProjectPoint(p r3.Vector, rot mat.Matrix, tvec r3.Vector, k mat.Matrix, dist Distortion) Point2 {
	cam := RotatePoint(rot, p).Add(tvec)
	if cam.Z == 0 {
		cam.Z = 1e-12
	}
	x := cam.X / cam.Z
	y := cam.Y / cam.Z
	xd, yd := dist.Apply(x, y)
	return Point2{
		X: k.At(0, 0)*xd + k.At(0, 1)*yd + k.At(0, 2),
		Y: k.At(1, 1)*yd + k.At(1, 2),
	}
}

// ProjectPoints maps a 3D point set into pixel space through the given pose,
// intrinsics and distortion coefficients.
func ProjectPoints(pts []r3.Vector, rvec, tvec r3.Vector, k mat.Matrix, dist Distortion) []Point2 {
	rot := Rodrigues(rvec)
	out := make([]Point2, len(pts))
	for i, p := range pts {
		out[i] = ProjectPoint(p, rot, tvec, k, dist)
	}
	return out
}

// CrossMatrix returns the skew-symmetric matrix [v]x such that
// [v]x * w == v x w.
func CrossMatrix(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// CameraMatrix builds a 3x3 intrinsic matrix from focal lengths and the
// principal point, with zero skew.
func CameraMatrix(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})
}

// Flatten9 copies a 3x3 matrix into a row-major slice of nine values.
func Flatten9(m mat.Matrix) []float64 {
	out := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// Mat3 builds a 3x3 matrix from a row-major slice of nine values.
func Mat3(v []float64) *mat.Dense {
	if len(v) != 9 {
		return nil
	}
	return mat.NewDense(3, 3, append([]float64(nil), v...))
}

// Orthonormalize projects an approximate rotation matrix onto SO(3) using
// its SVD, R = U * Vt.
func Orthonormalize(r mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(r, mat.SVDFull); !ok {
		return nil, errSVD
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var out mat.Dense
	out.Mul(&u, v.T())
	// Keep det(R) = +1.
	if mat.Det(&out) < 0 {
		scaled := mat.NewDense(3, 3, nil)
		scaled.Copy(&v)
		for i := 0; i < 3; i++ {
			scaled.Set(i, 2, -scaled.At(i, 2))
		}
		out.Mul(&u, scaled.T())
	}
	res := mat.NewDense(3, 3, nil)
	res.Copy(&out)
	return res, nil
}
