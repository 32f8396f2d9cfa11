package cloud

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-vision/stereopipe/internal/disparity"
)

func identityQ() []float64 {
	return []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func TestFromDisparitySkipsInvalidPixels(t *testing.T) {
	// 2x2 map: only the pixels with positive disparity back-project.
	m := &disparity.Map{Width: 2, Height: 2, Values: []float32{5, 0, 3, -1}}

	c, err := FromDisparity(m, nil, identityQ())
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	assert.Equal(t, r3.Vector{X: 0, Y: 0, Z: 5}, c.Points[0])
	assert.Equal(t, r3.Vector{X: 0, Y: 1, Z: 3}, c.Points[1])
	// No reference image: colors fall back to neutral gray.
	assert.Equal(t, neutralGray, c.Colors[0])
}

func TestFromDisparityZeroHomogeneousDivisor(t *testing.T) {
	// A Q whose last row zeroes the divisor for every pixel: all skipped.
	q := identityQ()
	q[12], q[13], q[14], q[15] = 0, 0, 0, 0

	m := &disparity.Map{Width: 1, Height: 1, Values: []float32{4}}
	_, err := FromDisparity(m, nil, q)
	assert.ErrorIs(t, err, ErrEmptyCloud)
}

func TestFromDisparityHomogeneousDivide(t *testing.T) {
	// Last row [0 0 1 0] divides by the disparity itself.
	q := identityQ()
	q[12], q[13], q[14], q[15] = 0, 0, 1, 0

	m := &disparity.Map{Width: 1, Height: 1, Values: []float32{4}}
	c, err := FromDisparity(m, nil, q)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.InDelta(t, 0.0, c.Points[0].X, 1e-12)
	assert.InDelta(t, 1.0, c.Points[0].Z, 1e-12)
}

func TestFromDisparitySamplesColors(t *testing.T) {
	ref := image.NewRGBA(image.Rect(0, 0, 2, 1))
	ref.SetRGBA(0, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	m := &disparity.Map{Width: 2, Height: 1, Values: []float32{2, -1}}

	c, err := FromDisparity(m, ref, identityQ())
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, Color{B: 50, G: 100, R: 200}, c.Colors[0])
}

func TestFromDisparityBadQ(t *testing.T) {
	m := &disparity.Map{Width: 1, Height: 1, Values: []float32{1}}
	_, err := FromDisparity(m, nil, []float64{1, 2, 3})
	assert.Error(t, err)
}

func TestAutoScaleSubUnitCloud(t *testing.T) {
	c := &PointCloud{Points: []r3.Vector{
		{X: 0.1, Y: 0.1, Z: 0.2},
		{X: 0.6, Y: 0.2, Z: 0.3},
	}}
	scale := c.AutoScale(DefaultFilterOptions())
	assert.Greater(t, scale, 1.0)

	minPt, maxPt, ok := c.BoundingBox()
	require.True(t, ok)
	maxRange := math.Max(maxPt.X-minPt.X, math.Max(maxPt.Y-minPt.Y, maxPt.Z-minPt.Z))
	assert.InDelta(t, 10.0, maxRange, 1e-9)
}

func TestAutoScaleLeavesSaneCloudsAlone(t *testing.T) {
	pts := []r3.Vector{{Z: 1}, {X: 2, Z: 3}}
	c := &PointCloud{Points: append([]r3.Vector(nil), pts...)}
	assert.Equal(t, 1.0, c.AutoScale(DefaultFilterOptions()))
	assert.Equal(t, pts, c.Points)
}

func TestAutoScaleEmptyAndDegenerate(t *testing.T) {
	empty := &PointCloud{}
	assert.Equal(t, 1.0, empty.AutoScale(DefaultFilterOptions()))

	// A single point has zero extent: no-op.
	single := &PointCloud{Points: []r3.Vector{{X: 0.5, Y: 0.5, Z: 0.5}}}
	assert.Equal(t, 1.0, single.AutoScale(DefaultFilterOptions()))
	assert.Equal(t, r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}, single.Points[0])
}

func TestFilterDropsOutliers(t *testing.T) {
	c := &PointCloud{
		Points: []r3.Vector{
			{X: 1, Y: 1, Z: 0.05},               // below depth floor
			{X: 1, Y: 1, Z: 5},                  // keeper
			{X: 1, Y: 1, Z: 6},                  // upper bound itself, excluded
			{X: 1, Y: 1, Z: 20},                 // beyond threshold
			{X: math.NaN(), Y: 1, Z: 5},         // non-finite
			{X: 50, Y: 1, Z: 5},                 // x out of range
			{X: 1, Y: 1, Z: math.Inf(1)},        // non-finite depth
			{X: 1, Y: math.Inf(-1), Z: 5.5},     // non-finite y
		},
		Colors: make([]Color, 8),
	}
	kept := c.Filter(DefaultFilterOptions())
	assert.Equal(t, 1, kept)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, r3.Vector{X: 1, Y: 1, Z: 5}, c.Points[0])
	assert.Equal(t, kept, len(c.Colors))
}

func TestFilterEmptyWhenNoValidDepth(t *testing.T) {
	c := &PointCloud{
		Points: []r3.Vector{{Z: -1}, {Z: 100}},
		Colors: make([]Color, 2),
	}
	assert.Equal(t, 0, c.Filter(DefaultFilterOptions()))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, len(c.Colors))
}

func TestFilterFallbackKeepsFinitePoints(t *testing.T) {
	// Two points at the same depth: zLow == zHigh, so the strict pass keeps
	// nothing and the permissive fallback must keep both.
	c := &PointCloud{
		Points: []r3.Vector{
			{X: 1, Y: 1, Z: 5},
			{X: 3, Y: 1, Z: 5},
			{X: math.NaN(), Y: 1, Z: 5},
		},
		Colors: make([]Color, 3),
	}
	kept := c.Filter(DefaultFilterOptions())
	assert.Equal(t, 2, kept)
}

func TestFilterFallbackHonorsCap(t *testing.T) {
	opts := DefaultFilterOptions()
	opts.FallbackCap = 3
	c := &PointCloud{Colors: make([]Color, 10)}
	for i := 0; i < 10; i++ {
		c.Points = append(c.Points, r3.Vector{X: float64(i), Y: 1, Z: 5})
	}
	// All share z == 5, so only the fallback path can keep anything.
	assert.Equal(t, 3, c.Filter(opts))
}

func TestFilterIdempotentOnStableCloud(t *testing.T) {
	c := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 1, Z: 5}, {X: 3, Y: 1, Z: 5}},
		Colors: []Color{{B: 1}, {B: 2}},
	}
	first := c.Filter(DefaultFilterOptions())
	afterFirst := append([]r3.Vector(nil), c.Points...)
	second := c.Filter(DefaultFilterOptions())

	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst, c.Points)
}

func TestFilterSubstitutesGrayForMissingColors(t *testing.T) {
	c := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 1, Z: 5}, {X: 3, Y: 1, Z: 5}},
		// Colors array shorter than points: malformed input.
		Colors: []Color{{B: 9, G: 9, R: 9}},
	}
	kept := c.Filter(DefaultFilterOptions())
	require.Equal(t, 2, kept)
	assert.Equal(t, Color{B: 9, G: 9, R: 9}, c.Colors[0])
	assert.Equal(t, neutralGray, c.Colors[1])
}

func TestBoundingBox(t *testing.T) {
	empty := &PointCloud{}
	_, _, ok := empty.BoundingBox()
	assert.False(t, ok)

	c := &PointCloud{Points: []r3.Vector{
		{X: -1, Y: 2, Z: 3},
		{X: 4, Y: -5, Z: 6},
	}}
	minPt, maxPt, ok := c.BoundingBox()
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: -1, Y: -5, Z: 3}, minPt)
	assert.Equal(t, r3.Vector{X: 4, Y: 2, Z: 6}, maxPt)
}

func TestSavePLYSwapsChannelOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ply")
	c := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 2, Z: 3}},
		Colors: []Color{{B: 10, G: 20, R: 30}},
	}
	require.NoError(t, c.Save(path, FormatPLY))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "ply\nformat ascii 1.0\nelement vertex 1\n"))
	assert.Contains(t, text, "property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n")
	// Stored blue-first, written red-first.
	assert.Contains(t, text, "1 2 3 30 20 10\n")
}

func TestPLYRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ply")
	c := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 0.5, Z: 6}},
		Colors: []Color{{B: 10, G: 20, R: 30}, {B: 40, G: 50, R: 60}},
	}
	require.NoError(t, c.Save(path, FormatPLY))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Points, got.Points)
	assert.Equal(t, c.Colors, got.Colors)
}

func TestXYZAndOBJRoundTrip(t *testing.T) {
	c := &PointCloud{
		Points: []r3.Vector{{X: 1, Y: 2, Z: 3}},
		Colors: []Color{{B: 10, G: 20, R: 30}},
	}
	for _, format := range []Format{FormatXYZ, FormatOBJ} {
		path := filepath.Join(t.TempDir(), "model"+format.Ext())
		require.NoError(t, c.Save(path, format))

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, c.Points, got.Points)
		// Colorless formats come back white.
		assert.Equal(t, Color{B: 255, G: 255, R: 255}, got.Colors[0])
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.stl")
	require.NoError(t, os.WriteFile(path, []byte("whatever"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveStatistics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_statistics.txt")
	c := &PointCloud{Points: []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 2, Y: 0, Z: 0},
	}}
	require.NoError(t, c.SaveStatistics(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Total points: 2")
	assert.Contains(t, text, "Center: (1, 0, 0)")
	assert.Contains(t, text, "Average distance from center: 1")
	assert.Contains(t, text, "Maximum distance from center: 1")
	assert.Contains(t, text, "Size: (2, 0, 0)")
}

func TestSaveStatisticsEmptyCloud(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_statistics.txt")
	c := &PointCloud{}
	require.NoError(t, c.SaveStatistics(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "No points in model\n", string(data))
}

func TestProjectionViews(t *testing.T) {
	dir := t.TempDir()
	c := &PointCloud{
		Points: []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: 2, Y: 3, Z: 4}},
		Colors: []Color{{R: 255}, {G: 255}},
	}
	require.NoError(t, c.ProjectionViews(dir))
	for _, name := range []string{"xy_view.jpg", "xz_view.jpg", "yz_view.jpg"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	empty := &PointCloud{}
	assert.ErrorIs(t, empty.ProjectionViews(dir), ErrEmptyCloud)
}
