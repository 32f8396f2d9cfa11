// Package disparity computes dense disparity maps from rectified stereo
// pairs with a sum-of-absolute-differences block matcher.
package disparity

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrEmpty marks an input pair with no overlapping content to match.
var ErrEmpty = errors.New("disparity: empty input images")

// Quality selects a block-matching preset trading speed for density.
type Quality int

const (
	Low Quality = iota
	Medium
	High
)

// ParseQuality maps a config string to a preset.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "low":
		return Low, nil
	case "", "medium":
		return Medium, nil
	case "high":
		return High, nil
	}
	return Medium, fmt.Errorf("disparity: unknown quality %q", s)
}

func (q Quality) String() string {
	switch q {
	case Low:
		return "low"
	case High:
		return "high"
	}
	return "medium"
}

// preset returns the matcher parameters for a quality level: the block
// half-size, the disparity search range and the uniqueness ratio in percent.
func (q Quality) preset() (halfBlock, maxDisparity, uniqueness int) {
	switch q {
	case Low:
		return 10, 64, 5
	case High:
		return 4, 160, 15
	}
	return 7, 112, 10
}

// Map is a dense disparity field. Values holds one disparity per pixel in
// row-major order; invalid pixels are -1.
type Map struct {
	Width, Height int
	Values        []float32
}

// At returns the disparity at (x, y), or -1 outside the map.
func (m *Map) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return -1
	}
	return m.Values[y*m.Width+x]
}

// Valid counts pixels carrying a usable disparity.
func (m *Map) Valid() int {
	n := 0
	for _, v := range m.Values {
		if v >= 0 {
			n++
		}
	}
	return n
}

// Compute matches every left-image block against the right image along the
// same row and returns the disparity map. Both images must be rectified and
// of equal size. A match is kept only when its SAD cost beats the runner-up
// by the preset's uniqueness margin and the right-to-left back-match lands
// within one pixel of the original column; the winning cost is then refined
// to sub-pixel precision by fitting a parabola through the neighboring
// costs.
func Compute(left, right *image.Gray, q Quality) (*Map, error) {
	lb, rb := left.Bounds(), right.Bounds()
	w, h := lb.Dx(), lb.Dy()
	if w == 0 || h == 0 {
		return nil, ErrEmpty
	}
	if rb.Dx() != w || rb.Dy() != h {
		return nil, fmt.Errorf("disparity: image sizes differ (%dx%d vs %dx%d)",
			w, h, rb.Dx(), rb.Dy())
	}
	half, maxD, uniq := q.preset()
	if maxD > w-2*half-1 {
		maxD = w - 2*half - 1
	}
	if maxD < 1 {
		return nil, ErrEmpty
	}

	m := &Map{Width: w, Height: h, Values: make([]float32, w*h)}
	for i := range m.Values {
		m.Values[i] = -1
	}

	costs := make([]int, maxD+1)
	for y := half; y < h-half; y++ {
		for x := half; x < w-half; x++ {
			dMax := min(maxD, x-half)
			if dMax < 1 {
				continue
			}
			best, second := math.MaxInt, math.MaxInt
			bestD := -1
			for d := 0; d <= dMax; d++ {
				c := sad(left, right, lb, rb, x, y, d, half)
				costs[d] = c
				if c < best {
					second = best
					best, bestD = c, d
				} else if c < second {
					second = c
				}
			}
			if bestD < 0 {
				continue
			}
			// Uniqueness: the winner must beat the runner-up by the
			// preset margin, or the pixel is ambiguous.
			if second != math.MaxInt && best*(100+uniq) >= second*100 {
				continue
			}
			if !consistent(left, right, lb, rb, x, y, bestD, maxD, half, w) {
				continue
			}
			m.Values[y*w+x] = subpixel(costs, bestD, dMax)
		}
	}
	if m.Valid() == 0 {
		return nil, ErrEmpty
	}
	return m, nil
}

// consistent re-matches the right-image block at (x-d, y) back against the
// left image and accepts the disparity only when the back-match lands
// within one pixel of the original column.
func consistent(left, right *image.Gray, lb, rb image.Rectangle, x, y, d, maxD, half, w int) bool {
	xr := x - d
	bestD, bestCost := -1, math.MaxInt
	for dd := 0; dd <= maxD; dd++ {
		xl := xr + dd
		if xl < half || xl >= w-half {
			continue
		}
		c := sad(left, right, lb, rb, xl, y, dd, half)
		if c < bestCost {
			bestCost, bestD = c, dd
		}
	}
	return bestD >= 0 && abs(bestD-d) <= 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// sad sums absolute pixel differences over the block centered at (x, y) in
// the left image against the block at (x-d, y) in the right image.
func sad(left, right *image.Gray, lb, rb image.Rectangle, x, y, d, half int) int {
	sum := 0
	for dy := -half; dy <= half; dy++ {
		lo := left.PixOffset(lb.Min.X+x-half, lb.Min.Y+y+dy)
		ro := right.PixOffset(rb.Min.X+x-half-d, rb.Min.Y+y+dy)
		for dx := 0; dx <= 2*half; dx++ {
			diff := int(left.Pix[lo+dx]) - int(right.Pix[ro+dx])
			if diff < 0 {
				diff = -diff
			}
			sum += diff
		}
	}
	return sum
}

// subpixel refines an integer disparity by fitting a parabola through the
// costs at d-1, d and d+1.
func subpixel(costs []int, d, dMax int) float32 {
	if d <= 0 || d >= dMax {
		return float32(d)
	}
	c0, c1, c2 := float64(costs[d-1]), float64(costs[d]), float64(costs[d+1])
	den := c0 - 2*c1 + c2
	if den <= 0 {
		return float32(d)
	}
	off := (c0 - c2) / (2 * den)
	if off < -1 || off > 1 {
		return float32(d)
	}
	return float32(float64(d) + off)
}

// Visualize renders the map as a grayscale image, scaling valid disparities
// to the full 0..255 range. Invalid pixels stay black.
func (m *Map) Visualize() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range m.Values {
		if v < 0 {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return img
	}
	scale := 255 / (hi - lo)
	for i, v := range m.Values {
		if v < 0 {
			continue
		}
		img.Pix[i] = uint8((v-lo)*scale + 0.5)
	}
	return img
}
