package cloud

import (
	"math"

	"github.com/parallax-vision/stereopipe/internal/monitoring"
)

// FilterOptions tunes the two-pass filter. The defaults encode empirical
// tuning for chessboard-scale scenes, not physical limits, so every
// threshold is configurable.
type FilterOptions struct {
	// MaxDistance is the distance threshold T: depth must stay below it
	// and |x|, |y| must stay within it.
	MaxDistance float64
	// MinZ floors the lower depth bound.
	MinZ float64
	// ScaleTarget is the extent the auto-scale pass stretches sub-unit
	// clouds to.
	ScaleTarget float64
	// FallbackCap bounds the permissive fallback when strict filtering
	// would discard everything.
	FallbackCap int
}

// DefaultFilterOptions returns the tuned defaults.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MaxDistance: 10.0,
		MinZ:        0.1,
		ScaleTarget: 10.0,
		FallbackCap: 10000,
	}
}

// AutoScale corrects a degenerate coordinate scale: when the largest
// bounding-box extent of the finite points is positive but below one unit,
// every coordinate is multiplied so that extent becomes exactly
// opts.ScaleTarget. Returns the factor applied (1 when nothing changed).
func (c *PointCloud) AutoScale(opts FilterOptions) float64 {
	var minPt, maxPt [3]float64
	seen := false
	for _, p := range c.Points {
		if !finite(p) {
			continue
		}
		v := [3]float64{p.X, p.Y, p.Z}
		if !seen {
			minPt, maxPt = v, v
			seen = true
			continue
		}
		for i := 0; i < 3; i++ {
			minPt[i] = math.Min(minPt[i], v[i])
			maxPt[i] = math.Max(maxPt[i], v[i])
		}
	}
	if !seen {
		return 1
	}
	maxRange := 0.0
	for i := 0; i < 3; i++ {
		maxRange = math.Max(maxRange, maxPt[i]-minPt[i])
	}
	if maxRange <= 0 || maxRange >= 1.0 {
		return 1
	}
	scale := opts.ScaleTarget / maxRange
	for i := range c.Points {
		c.Points[i] = c.Points[i].Mul(scale)
	}
	monitoring.Logf("cloud: sub-unit extent %.6f, rescaled by %.3f", maxRange, scale)
	return scale
}

// Filter runs the two-pass cleanup in place and returns the surviving point
// count. Pass A rescales suspiciously small clouds (AutoScale); pass B keeps
// points whose coordinates are finite, whose depth lies strictly inside the
// bounds derived from the valid depth range, and whose |x| and |y| stay
// under the distance threshold. If the strict pass would discard a non-empty
// input entirely, a permissive fallback keeps the first FallbackCap points
// with finite coordinates instead. Filtering never fails.
func (c *PointCloud) Filter(opts FilterOptions) int {
	if len(c.Points) == 0 {
		return 0
	}
	c.AutoScale(opts)

	t := opts.MaxDistance
	meanZ, validCount := 0.0, 0
	minZ, maxZ := math.MaxFloat64, -math.MaxFloat64
	for _, p := range c.Points {
		if p.Z > 0 && p.Z < t && !math.IsNaN(p.Z) && !math.IsInf(p.Z, 0) {
			meanZ += p.Z
			validCount++
			minZ = math.Min(minZ, p.Z)
			maxZ = math.Max(maxZ, p.Z)
		}
	}
	if validCount == 0 {
		c.Points = c.Points[:0]
		c.Colors = c.Colors[:0]
		return 0
	}
	meanZ /= float64(validCount)
	monitoring.Logf("cloud: %d points, %d valid, z %.3f..%.3f, mean z %.3f",
		len(c.Points), validCount, minZ, maxZ, meanZ)

	zLow := math.Max(opts.MinZ, minZ)
	zHigh := math.Min(t, maxZ)

	kept := 0
	for i, p := range c.Points {
		if finite(p) &&
			p.Z > zLow && p.Z < zHigh &&
			math.Abs(p.X) < t && math.Abs(p.Y) < t {
			c.Points[kept] = p
			c.Colors = setColor(c.Colors, kept, c.ColorAt(i))
			kept++
		}
	}
	if kept == 0 {
		// Over-aggressive thresholds would drop a valid reconstruction;
		// keep whatever has finite coordinates, up to the cap.
		for i, p := range c.Points {
			if !finite(p) {
				continue
			}
			c.Points[kept] = p
			c.Colors = setColor(c.Colors, kept, c.ColorAt(i))
			kept++
			if kept >= opts.FallbackCap {
				break
			}
		}
		monitoring.Logf("cloud: strict filter kept nothing, fallback kept %d points", kept)
	}
	c.Points = c.Points[:kept]
	if kept <= len(c.Colors) {
		c.Colors = c.Colors[:kept]
	}
	return kept
}

// setColor writes v at index i, growing the slice when the source cloud had
// fewer colors than points.
func setColor(colors []Color, i int, v Color) []Color {
	if i < len(colors) {
		colors[i] = v
		return colors
	}
	return append(colors, v)
}
