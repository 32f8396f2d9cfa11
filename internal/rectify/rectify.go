// Package rectify derives the stereo rectification transforms (R1, R2, P1,
// P2, Q) from a stereo calibration and builds/applies the pixel remaps that
// produce row-aligned image pairs.
package rectify

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/parallax-vision/stereopipe/internal/calib"
	"github.com/parallax-vision/stereopipe/internal/geometry"
)

var errDegenerateBaseline = errors.New("rectify: degenerate baseline")

// Compute derives a rectification record from a stereo calibration using
// Bouguet's method: each camera is rotated by half the inter-camera
// rotation, then both are rotated so the baseline lies along the image
// x-axis. P1 and P2 share a focal length and principal point, so
// corresponding epipolar lines land on the same image row.
func Compute(rec *calib.StereoCalibrationRecord, width, height int) (*calib.RectificationRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	r := rec.R()
	t := r3.Vector{X: rec.Translation[0], Y: rec.Translation[1], Z: rec.Translation[2]}

	om := geometry.RodriguesVector(r)
	halfL := geometry.Rodrigues(om.Mul(0.5))  // applied to the left camera
	halfR := geometry.Rodrigues(om.Mul(-0.5)) // applied to the right camera

	// Baseline in the half-rotated right frame.
	tHalf := geometry.RotatePoint(halfR, t)
	norm := tHalf.Norm()
	if norm < 1e-12 {
		return nil, errDegenerateBaseline
	}

	e1 := tHalf.Mul(1 / norm)
	if tHalf.X < 0 {
		e1 = e1.Mul(-1)
	}
	e2 := r3.Vector{X: -e1.Y, Y: e1.X, Z: 0}
	if e2.Norm() < 1e-12 {
		e2 = r3.Vector{Y: 1}
	} else {
		e2 = e2.Mul(1 / e2.Norm())
	}
	e3 := e1.Cross(e2)
	row := mat.NewDense(3, 3, []float64{
		e1.X, e1.Y, e1.Z,
		e2.X, e2.Y, e2.Z,
		e3.X, e3.Y, e3.Z,
	})

	var r1, r2 mat.Dense
	r1.Mul(row, halfL)
	r2.Mul(row, halfR)

	tNew := geometry.RotatePoint(row, tHalf)
	tx := tNew.X
	if math.Abs(tx) < 1e-12 {
		return nil, errDegenerateBaseline
	}

	kl, kr := rec.Left.K(), rec.Right.K()
	f := (kl.At(1, 1) + kr.At(1, 1)) / 2
	cx := (kl.At(0, 2) + kr.At(0, 2)) / 2
	cy := (kl.At(1, 2) + kr.At(1, 2)) / 2

	p1 := []float64{
		f, 0, cx, 0,
		0, f, cy, 0,
		0, 0, 1, 0,
	}
	p2 := []float64{
		f, 0, cx, f * tx,
		0, f, cy, 0,
		0, 0, 1, 0,
	}
	// Both cameras share a principal column, so the Q matrix's last
	// element vanishes and depth is Z = f * |tx| / d.
	q := []float64{
		1, 0, 0, -cx,
		0, 1, 0, -cy,
		0, 0, 0, f,
		0, 0, -1 / tx, 0,
	}

	out := &calib.RectificationRecord{
		R1:       geometry.Flatten9(&r1),
		R2:       geometry.Flatten9(&r2),
		P1:       p1,
		P2:       p2,
		Q:        q,
		LeftROI:  calib.ROI{Width: width, Height: height},
		RightROI: calib.ROI{Width: width, Height: height},
	}
	return out, nil
}

// Remap holds per-pixel source coordinates for rectifying one camera's
// images.
type Remap struct {
	Width, Height int
	MapX, MapY    []float32
}

// BuildRemap computes the inverse pixel map for one camera: for every
// rectified destination pixel it finds the distorted source pixel to sample
// from, given the camera's intrinsics and distortion, its rectification
// rotation rRect (9 values) and the new projection p (12 values).
func BuildRemap(k *mat.Dense, dist []float64, rRect, p []float64, width, height int) (*Remap, error) {
	if len(rRect) != 9 || len(p) != 12 {
		return nil, fmt.Errorf("rectify: bad transform shapes (%d, %d)", len(rRect), len(p))
	}
	rot := geometry.Mat3(rRect)
	d := geometry.DistortionFromSlice(dist)

	fNew, cxNew, cyNew := p[0], p[2], p[6]
	if fNew == 0 {
		return nil, errors.New("rectify: zero focal length in projection")
	}
	fx, fy := k.At(0, 0), k.At(1, 1)
	cx, cy := k.At(0, 2), k.At(1, 2)
	skew := k.At(0, 1)

	m := &Remap{
		Width:  width,
		Height: height,
		MapX:   make([]float32, width*height),
		MapY:   make([]float32, width*height),
	}
	rt := rot.T()
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			ray := geometry.RotatePoint(rt, r3.Vector{
				X: (float64(u) - cxNew) / fNew,
				Y: (float64(v) - cyNew) / fNew,
				Z: 1,
			})
			if ray.Z == 0 {
				ray.Z = 1e-12
			}
			xn := ray.X / ray.Z
			yn := ray.Y / ray.Z
			xd, yd := d.Apply(xn, yn)
			idx := v*width + u
			m.MapX[idx] = float32(fx*xd + skew*yd + cx)
			m.MapY[idx] = float32(fy*yd + cy)
		}
	}
	return m, nil
}

// Apply warps src through the map with bilinear interpolation. Destination
// pixels whose source falls outside src come out black.
func (m *Remap) Apply(src image.Image) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for v := 0; v < m.Height; v++ {
		for u := 0; u < m.Width; u++ {
			idx := v*m.Width + u
			sx := float64(m.MapX[idx])
			sy := float64(m.MapY[idx])
			x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
			if x0 < 0 || y0 < 0 || x0+1 >= b.Dx() || y0+1 >= b.Dy() {
				continue
			}
			fx, fy := sx-float64(x0), sy-float64(y0)
			r, g, bl := bilinear(src, b, x0, y0, fx, fy)
			o := out.PixOffset(u, v)
			out.Pix[o] = r
			out.Pix[o+1] = g
			out.Pix[o+2] = bl
			out.Pix[o+3] = 255
		}
	}
	return out
}

// ApplyGray warps a grayscale image through the map.
func (m *Remap) ApplyGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for v := 0; v < m.Height; v++ {
		for u := 0; u < m.Width; u++ {
			idx := v*m.Width + u
			sx := float64(m.MapX[idx])
			sy := float64(m.MapY[idx])
			x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
			if x0 < 0 || y0 < 0 || x0+1 >= b.Dx() || y0+1 >= b.Dy() {
				continue
			}
			fx, fy := sx-float64(x0), sy-float64(y0)
			p00 := float64(src.GrayAt(b.Min.X+x0, b.Min.Y+y0).Y)
			p10 := float64(src.GrayAt(b.Min.X+x0+1, b.Min.Y+y0).Y)
			p01 := float64(src.GrayAt(b.Min.X+x0, b.Min.Y+y0+1).Y)
			p11 := float64(src.GrayAt(b.Min.X+x0+1, b.Min.Y+y0+1).Y)
			v0 := p00*(1-fx) + p10*fx
			v1 := p01*(1-fx) + p11*fx
			out.Pix[v*m.Width+u] = uint8(v0*(1-fy) + v1*fy + 0.5)
		}
	}
	return out
}

// bilinear samples the four neighbors of (x0, y0) with weights (fx, fy).
func bilinear(src image.Image, b image.Rectangle, x0, y0 int, fx, fy float64) (uint8, uint8, uint8) {
	channel := func(px, py int) (float64, float64, float64) {
		r, g, bl, _ := src.At(b.Min.X+px, b.Min.Y+py).RGBA()
		return float64(r >> 8), float64(g >> 8), float64(bl >> 8)
	}
	r00, g00, b00 := channel(x0, y0)
	r10, g10, b10 := channel(x0+1, y0)
	r01, g01, b01 := channel(x0, y0+1)
	r11, g11, b11 := channel(x0+1, y0+1)
	mix := func(p00, p10, p01, p11 float64) uint8 {
		v0 := p00*(1-fx) + p10*fx
		v1 := p01*(1-fx) + p11*fx
		return uint8(v0*(1-fy) + v1*fy + 0.5)
	}
	return mix(r00, r10, r01, r11), mix(g00, g10, g01, g11), mix(b00, b10, b01, b11)
}
