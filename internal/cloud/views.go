package cloud

import (
	"image"
	"image/color"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/parallax-vision/stereopipe/internal/raster"
)

const viewSize = 800

// ProjectionViews renders three orthographic scatter views of the cloud
// (front XY, top XZ, side YZ) into dir as xy_view.jpg, xz_view.jpg and
// yz_view.jpg. Fails on an empty cloud.
func (c *PointCloud) ProjectionViews(dir string) error {
	minPt, maxPt, ok := c.BoundingBox()
	if !ok {
		return ErrEmptyCloud
	}

	views := []struct {
		name  string
		axes  func(p r3.Vector) (h, v float64)
		hSpan float64
		vSpan float64
	}{
		{
			name:  "xy_view.jpg",
			axes:  func(p r3.Vector) (float64, float64) { return p.X - minPt.X, maxPt.Y - p.Y },
			hSpan: maxPt.X - minPt.X,
			vSpan: maxPt.Y - minPt.Y,
		},
		{
			name:  "xz_view.jpg",
			axes:  func(p r3.Vector) (float64, float64) { return p.X - minPt.X, p.Z - minPt.Z },
			hSpan: maxPt.X - minPt.X,
			vSpan: maxPt.Z - minPt.Z,
		},
		{
			name:  "yz_view.jpg",
			axes:  func(p r3.Vector) (float64, float64) { return p.Y - minPt.Y, p.Z - minPt.Z },
			hSpan: maxPt.Y - minPt.Y,
			vSpan: maxPt.Z - minPt.Z,
		},
	}

	for _, v := range views {
		img := image.NewRGBA(image.Rect(0, 0, viewSize, viewSize))
		scale := viewScale(v.hSpan, v.vSpan)
		for i, p := range c.Points {
			h, vv := v.axes(p)
			x := int(h*scale + viewSize*0.05)
			y := int(vv*scale + viewSize*0.05)
			if x < 0 || x >= viewSize || y < 0 || y >= viewSize {
				continue
			}
			col := c.ColorAt(i)
			raster.DrawCircle(img, x, y, 1, -1, color.RGBA{R: col.R, G: col.G, B: col.B, A: 255})
		}
		if err := raster.Save(filepath.Join(dir, v.name), img); err != nil {
			return err
		}
	}
	return nil
}

// viewScale fits both spans into the image with a 10% margin. Degenerate
// spans fall back so single-plane clouds still render.
func viewScale(hSpan, vSpan float64) float64 {
	span := hSpan
	if vSpan > span {
		span = vSpan
	}
	if span <= 0 {
		return 1
	}
	return float64(viewSize) / span * 0.9
}
