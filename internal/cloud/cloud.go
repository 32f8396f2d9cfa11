// Package cloud builds colored point clouds from disparity maps and handles
// their filtering, serialization and statistics.
package cloud

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"

	"github.com/parallax-vision/stereopipe/internal/disparity"
)

// ErrEmptyCloud marks a reconstruction that produced zero usable points.
var ErrEmptyCloud = errors.New("cloud: no points")

// Color is one point's color in blue, green, red channel order. The order
// matches the row layout of the rectified reference frames the colors are
// sampled from; writers that need red-first output swap at write time.
type Color struct {
	B, G, R uint8
}

// neutralGray substitutes for a missing color rather than failing a write.
var neutralGray = Color{B: 128, G: 128, R: 128}

// PointCloud is an unordered set of 3D points with one color per point.
// Points and Colors stay index-aligned through filtering.
type PointCloud struct {
	Points []r3.Vector
	Colors []Color
}

// Len returns the point count.
func (c *PointCloud) Len() int { return len(c.Points) }

// ColorAt returns the color for index i, or neutral gray when the color
// array is short or malformed.
func (c *PointCloud) ColorAt(i int) Color {
	if i < len(c.Colors) {
		return c.Colors[i]
	}
	return neutralGray
}

// FromDisparity back-projects a disparity map through the 4x4 reprojection
// matrix q (row-major, 16 values). For every pixel with a positive, finite
// disparity the homogeneous point [x y d 1] is mapped through q and divided
// by its fourth component; pixels whose fourth component is zero are skipped
// rather than treated as errors. Colors are sampled from ref when non-nil.
func FromDisparity(m *disparity.Map, ref image.Image, q []float64) (*PointCloud, error) {
	if len(q) != 16 {
		return nil, fmt.Errorf("cloud: reprojection matrix has %d values, want 16", len(q))
	}
	c := &PointCloud{}
	var refBounds image.Rectangle
	if ref != nil {
		refBounds = ref.Bounds()
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			d := float64(m.Values[y*m.Width+x])
			if d <= 0 || math.IsInf(d, 0) || math.IsNaN(d) {
				continue
			}
			fx, fy := float64(x), float64(y)
			w := q[12]*fx + q[13]*fy + q[14]*d + q[15]
			if w == 0 {
				continue
			}
			p := r3.Vector{
				X: (q[0]*fx + q[1]*fy + q[2]*d + q[3]) / w,
				Y: (q[4]*fx + q[5]*fy + q[6]*d + q[7]) / w,
				Z: (q[8]*fx + q[9]*fy + q[10]*d + q[11]) / w,
			}
			c.Points = append(c.Points, p)

			col := neutralGray
			if ref != nil {
				px := ref.At(refBounds.Min.X+x, refBounds.Min.Y+y)
				r, g, b, _ := px.RGBA()
				col = Color{B: uint8(b >> 8), G: uint8(g >> 8), R: uint8(r >> 8)}
			}
			c.Colors = append(c.Colors, col)
		}
	}
	if len(c.Points) == 0 {
		return nil, ErrEmptyCloud
	}
	return c, nil
}

// BoundingBox returns the axis-aligned min/max over all points. ok is false
// on an empty cloud.
func (c *PointCloud) BoundingBox() (minPt, maxPt r3.Vector, ok bool) {
	if len(c.Points) == 0 {
		return minPt, maxPt, false
	}
	minPt, maxPt = c.Points[0], c.Points[0]
	for _, p := range c.Points[1:] {
		minPt.X = math.Min(minPt.X, p.X)
		minPt.Y = math.Min(minPt.Y, p.Y)
		minPt.Z = math.Min(minPt.Z, p.Z)
		maxPt.X = math.Max(maxPt.X, p.X)
		maxPt.Y = math.Max(maxPt.Y, p.Y)
		maxPt.Z = math.Max(maxPt.Z, p.Z)
	}
	return minPt, maxPt, true
}

func finite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}
