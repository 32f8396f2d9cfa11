package rectify

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-vision/stereopipe/internal/calib"
	"github.com/parallax-vision/stereopipe/internal/geometry"
)

func testStereoRecord(rotation []float64, translation []float64) *calib.StereoCalibrationRecord {
	cam := calib.CalibrationRecord{
		CameraMatrix: []float64{800, 0, 320, 0, 800, 240, 0, 0, 1},
		Distortion:   []float64{0, 0, 0, 0, 0},
		ImageWidth:   640,
		ImageHeight:  480,
	}
	return &calib.StereoCalibrationRecord{
		Left:        cam,
		Right:       cam,
		Rotation:    rotation,
		Translation: translation,
		ImageWidth:  640,
		ImageHeight: 480,
	}
}

var identity9 = []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

func TestComputeAxisAlignedRig(t *testing.T) {
	// Identity rotation, pure horizontal baseline: rectification is a no-op
	// up to the shared projection.
	rec := testStereoRecord(identity9, []float64{-60, 0, 0})

	rect, err := Compute(rec, 640, 480)
	require.NoError(t, err)

	for i := range identity9 {
		assert.InDelta(t, identity9[i], rect.R1[i], 1e-9)
		assert.InDelta(t, identity9[i], rect.R2[i], 1e-9)
	}

	// Both projections share focal length and principal point.
	assert.InDelta(t, 800, rect.P1[0], 1e-9)
	assert.Equal(t, rect.P1[0], rect.P2[0])
	assert.Equal(t, rect.P1[2], rect.P2[2])
	assert.Equal(t, rect.P1[6], rect.P2[6])
	assert.InDelta(t, 0, rect.P1[3], 1e-9)
	assert.InDelta(t, 800*(-60), rect.P2[3], 1e-6)

	// Q maps (cx, cy, d) to a point straight ahead at depth f*|Tx|/d.
	q := rect.Q
	assert.InDelta(t, -rect.P1[2], q[3], 1e-9)
	assert.InDelta(t, -rect.P1[6], q[7], 1e-9)
	assert.InDelta(t, 800, q[11], 1e-9)
	assert.InDelta(t, 1.0/60, q[14], 1e-9)
	assert.Equal(t, 0.0, q[15])

	assert.Equal(t, calib.ROI{Width: 640, Height: 480}, rect.LeftROI)
}

func TestComputeRotatedRigAlignsRows(t *testing.T) {
	// A slightly rotated rig: after rectification both cameras must project
	// any scene point onto the same image row.
	rot := geometry.Rodrigues(r3.Vector{X: 0.02, Y: -0.04, Z: 0.01})
	rec := testStereoRecord(geometry.Flatten9(rot), []float64{-60, 1.5, 0.8})

	rect, err := Compute(rec, 640, 480)
	require.NoError(t, err)

	r1 := geometry.Mat3(rect.R1)
	r2 := geometry.Mat3(rect.R2)
	relT := r3.Vector{X: -60, Y: 1.5, Z: 0.8}

	f1, cx1, cy1 := rect.P1[0], rect.P1[2], rect.P1[6]
	project := func(p r3.Vector) (float64, float64) {
		return f1*p.X/p.Z + cx1, f1*p.Y/p.Z + cy1
	}

	for _, world := range []r3.Vector{
		{X: 10, Y: -20, Z: 400},
		{X: -50, Y: 30, Z: 600},
		{X: 0, Y: 0, Z: 500},
	} {
		// Left camera frame is the world frame here.
		left := geometry.RotatePoint(r1, world)
		rightCam := geometry.RotatePoint(rot, world).Add(relT)
		right := geometry.RotatePoint(r2, rightCam)

		_, vl := project(left)
		_, vr := project(right)
		assert.InDelta(t, vl, vr, 1e-6, "rectified rows must align for %v", world)
	}
}

func TestComputeDegenerateBaseline(t *testing.T) {
	rec := testStereoRecord(identity9, []float64{0, 0, 0})
	_, err := Compute(rec, 640, 480)
	assert.Error(t, err)
}

func TestComputeRejectsMalformedRecord(t *testing.T) {
	rec := testStereoRecord([]float64{1, 0, 0}, []float64{-60, 0, 0})
	_, err := Compute(rec, 640, 480)
	assert.ErrorIs(t, err, calib.ErrMalformed)
}

func TestBuildRemapIdentity(t *testing.T) {
	k := geometry.CameraMatrix(800, 800, 320, 240)
	proj := []float64{
		800, 0, 320, 0,
		0, 800, 240, 0,
		0, 0, 1, 0,
	}
	m, err := BuildRemap(k, nil, identity9, proj, 64, 48)
	require.NoError(t, err)

	// No rotation, no distortion, same projection: every destination pixel
	// samples itself.
	for v := 0; v < 48; v += 7 {
		for u := 0; u < 64; u += 7 {
			idx := v*64 + u
			assert.InDelta(t, float64(u), float64(m.MapX[idx]), 1e-4)
			assert.InDelta(t, float64(v), float64(m.MapY[idx]), 1e-4)
		}
	}
}

func TestBuildRemapBadShapes(t *testing.T) {
	k := geometry.CameraMatrix(800, 800, 320, 240)
	_, err := BuildRemap(k, nil, []float64{1, 2}, make([]float64, 12), 10, 10)
	assert.Error(t, err)
	_, err = BuildRemap(k, nil, identity9, []float64{1}, 10, 10)
	assert.Error(t, err)
}

func TestRemapApplyIdentity(t *testing.T) {
	k := geometry.CameraMatrix(800, 800, 16, 12)
	proj := []float64{
		800, 0, 16, 0,
		0, 800, 12, 0,
		0, 0, 1, 0,
	}
	m, err := BuildRemap(k, nil, identity9, proj, 32, 24)
	require.NoError(t, err)

	src := image.NewGray(image.Rect(0, 0, 32, 24))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 7 % 251)
	}
	out := m.ApplyGray(src)

	// Interior pixels survive an identity warp unchanged.
	for y := 2; y < 22; y++ {
		for x := 2; x < 30; x++ {
			got := out.Pix[y*32+x]
			want := src.Pix[y*32+x]
			if math.Abs(float64(got)-float64(want)) > 1 {
				t.Fatalf("pixel (%d,%d): got %d want %d", x, y, got, want)
			}
		}
	}
}
