package residual

import (
	"fmt"
	"image"
	"image/color"

	"github.com/parallax-vision/stereopipe/internal/raster"
)

var (
	detectedColor  = color.RGBA{G: 255, A: 255}
	projectedColor = color.RGBA{R: 255, A: 255}
	segmentColor   = color.RGBA{R: 255, B: 255, A: 255}
	labelColor     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Overlay draws the residual diagnostics onto a copy of src: detected
// points in green, reprojected points in red, a magenta segment joining
// each pair, and around every detected point a ring whose color ramps from
// green (smallest error in the image) to red (largest), plus a text summary
// of the average error.
func Overlay(src image.Image, res *ImageResidual) *image.RGBA {
	img := raster.ToRGBA(src)
	for i := range res.Detected {
		dx, dy := int(res.Detected[i].X+0.5), int(res.Detected[i].Y+0.5)
		px, py := int(res.Projected[i].X+0.5), int(res.Projected[i].Y+0.5)
		raster.DrawLine(img, dx, dy, px, py, segmentColor)
		raster.DrawCircle(img, dx, dy, 3, -1, detectedColor)
		raster.DrawCircle(img, px, py, 3, -1, projectedColor)
		raster.DrawCircle(img, dx, dy, 5, 2, rampColor(res.Errors[i], res.Max))
	}
	raster.DrawText(img, 10, 30, "Green: Detected, Red: Projected", labelColor)
	raster.DrawText(img, 10, 60, fmt.Sprintf("Avg Error: %.3f px", res.Average), labelColor)
	return img
}

// rampColor maps an error within [0, max] onto a green-to-red ramp.
func rampColor(err, max float64) color.RGBA {
	t := 0.0
	if max > 0 {
		t = err / max
	}
	if t > 1 {
		t = 1
	}
	return color.RGBA{
		R: uint8(255 * t),
		G: uint8(255 * (1 - t)),
		A: 255,
	}
}
