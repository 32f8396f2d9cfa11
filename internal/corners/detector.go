package corners

import (
	"image"
	"math"
	"sort"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

// SaddleDetector locates chessboard X-corners by their saddle-point
// signature: the determinant of the intensity Hessian is strongly negative
// at the meeting point of two dark and two light squares.
type SaddleDetector struct {
	// ResponseFraction is the fraction of the peak saddle response a
	// candidate must reach to be kept.
	ResponseFraction float64
	// Spacing is the derivative sampling offset in pixels.
	Spacing int
}

// NewSaddleDetector returns a detector with the tuned defaults.
func NewSaddleDetector() *SaddleDetector {
	return &SaddleDetector{ResponseFraction: 0.2, Spacing: 2}
}

// Detect locates a full boardWidth x boardHeight grid of inner corners and
// returns them in row-major order (top-left first). It reports false when
// the grid is incomplete.
func (d *SaddleDetector) Detect(img *image.Gray, boardWidth, boardHeight int) ([]geometry.Point2, bool) {
	want := boardWidth * boardHeight
	if want == 0 || img == nil {
		return nil, false
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	s := d.Spacing
	if s < 1 {
		s = 2
	}
	if w <= 4*s || h <= 4*s {
		return nil, false
	}

	smooth := boxBlur(img)
	response := make([]float64, w*h)
	maxResp := 0.0
	for y := 2 * s; y < h-2*s; y++ {
		for x := 2 * s; x < w-2*s; x++ {
			c := float64(smooth[y*w+x])
			ixx := float64(smooth[y*w+x+s]) - 2*c + float64(smooth[y*w+x-s])
			iyy := float64(smooth[(y+s)*w+x]) - 2*c + float64(smooth[(y-s)*w+x])
			ixy := (float64(smooth[(y+s)*w+x+s]) - float64(smooth[(y-s)*w+x+s]) -
				float64(smooth[(y+s)*w+x-s]) + float64(smooth[(y-s)*w+x-s])) / 4
			// Negated Hessian determinant: large and positive at saddles.
			r := ixy*ixy - ixx*iyy
			if r > 0 {
				response[y*w+x] = r
				if r > maxResp {
					maxResp = r
				}
			}
		}
	}
	if maxResp == 0 {
		return nil, false
	}

	frac := d.ResponseFraction
	if frac <= 0 {
		frac = 0.2
	}
	threshold := maxResp * frac

	// Non-maximum suppression radius scaled to the expected corner pitch.
	radius := min(w/(boardWidth+1), h/(boardHeight+1)) / 2
	if radius < 3 {
		radius = 3
	}

	type candidate struct {
		x, y int
		resp float64
	}
	var cands []candidate
	for y := 2 * s; y < h-2*s; y++ {
		for x := 2 * s; x < w-2*s; x++ {
			r := response[y*w+x]
			if r < threshold {
				continue
			}
			if !isLocalMax(response, w, h, x, y, radius) {
				continue
			}
			cands = append(cands, candidate{x, y, r})
		}
	}
	if len(cands) < want {
		return nil, false
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].resp > cands[j].resp })
	cands = cands[:want]

	pts := make([]geometry.Point2, len(cands))
	for i, c := range cands {
		pts[i] = refine(response, w, h, c.x, c.y, s)
	}
	return orderGrid(pts, boardWidth, boardHeight)
}

// boxBlur applies two passes of a 3x3 box filter, returning a flat buffer.
func boxBlur(img *image.Gray) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	src := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src[y*w+x] = float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		}
	}
	dst := make([]float64, w*h)
	for pass := 0; pass < 2; pass++ {
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				sum := 0.0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sum += src[(y+dy)*w+x+dx]
					}
				}
				dst[y*w+x] = sum / 9
			}
		}
		src, dst = dst, src
	}
	return src
}

func isLocalMax(resp []float64, w, h, x, y, radius int) bool {
	v := resp[y*w+x]
	for dy := -radius; dy <= radius; dy++ {
		yy := y + dy
		if yy < 0 || yy >= h {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			xx := x + dx
			if xx < 0 || xx >= w {
				continue
			}
			other := resp[yy*w+xx]
			if other > v {
				return false
			}
			// Ties resolve toward the top-left candidate.
			if other == v && (yy < y || (yy == y && xx < x)) {
				return false
			}
		}
	}
	return true
}

// refine computes a response-weighted centroid around (x, y) for subpixel
// corner positions.
func refine(resp []float64, w, h, x, y, radius int) geometry.Point2 {
	var sum, sx, sy float64
	for dy := -radius; dy <= radius; dy++ {
		yy := y + dy
		if yy < 0 || yy >= h {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			xx := x + dx
			if xx < 0 || xx >= w {
				continue
			}
			r := resp[yy*w+xx]
			sum += r
			sx += r * float64(xx)
			sy += r * float64(yy)
		}
	}
	if sum == 0 {
		return geometry.Point2{X: float64(x), Y: float64(y)}
	}
	return geometry.Point2{X: sx / sum, Y: sy / sum}
}

// orderGrid sorts detected corners into row-major board order. Rows are
// split on the vertical gaps between consecutive y-sorted points, which
// holds for boards imaged without extreme roll.
func orderGrid(pts []geometry.Point2, boardWidth, boardHeight int) ([]geometry.Point2, bool) {
	if len(pts) != boardWidth*boardHeight {
		return nil, false
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Y < pts[j].Y })

	out := make([]geometry.Point2, 0, len(pts))
	for row := 0; row < boardHeight; row++ {
		line := append([]geometry.Point2(nil), pts[row*boardWidth:(row+1)*boardWidth]...)
		// A genuine row is nearly flat; a large spread means the
		// y-sorted chunking mixed two rows.
		minY, maxY := line[0].Y, line[0].Y
		for _, p := range line[1:] {
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
		var rowGap float64
		if row+1 < boardHeight {
			rowGap = pts[(row+1)*boardWidth].Y - maxY
		} else {
			rowGap = maxY - minY + 1
		}
		if maxY-minY > math.Max(rowGap*2, 4) && rowGap > 0 {
			return nil, false
		}
		sort.Slice(line, func(i, j int) bool { return line[i].X < line[j].X })
		out = append(out, line...)
	}
	return out, true
}
