package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DrawCircle draws a circle outline of the given radius and stroke width
// centered at (cx, cy). A width < 0 fills the circle.
func DrawCircle(img *image.RGBA, cx, cy, radius, width int, c color.Color) {
	outer := radius * radius
	inner := (radius - width) * (radius - width)
	if width < 0 {
		inner = -1
	}
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := dx*dx + dy*dy
			if d2 <= outer && d2 > inner {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// DrawLine draws a 1px line from (x0, y0) to (x1, y1) using Bresenham's
// algorithm.
func DrawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// DrawText renders s at (x, y) with the fixed 7x13 bitmap face. The y
// coordinate is the text baseline.
func DrawText(img *image.RGBA, x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
