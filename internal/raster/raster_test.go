package raster

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := solidImage(8, 6, color.RGBA{R: 120, G: 80, B: 40, A: 255})

	for _, name := range []string{"img.png", "img.jpg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, src))

		got, err := Load(path)
		require.NoError(t, err)
		b := got.Bounds()
		assert.Equal(t, 8, b.Dx())
		assert.Equal(t, 6, b.Dy())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.png"))
	assert.Error(t, err)
}

func TestResizeDimensions(t *testing.T) {
	src := solidImage(100, 50, color.RGBA{R: 255, A: 255})
	for _, mode := range []Interpolation{Nearest, Bilinear, CatmullRom} {
		dst := Resize(src, 25, 10, mode)
		assert.Equal(t, 25, dst.Bounds().Dx())
		assert.Equal(t, 10, dst.Bounds().Dy())
		// Solid input stays solid under any kernel.
		r, _, _, _ := dst.At(12, 5).RGBA()
		assert.Equal(t, uint32(255), r>>8)
	}
}

func TestGrayConversion(t *testing.T) {
	src := solidImage(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	g := Gray(src)
	assert.Equal(t, uint8(255), g.GrayAt(2, 2).Y)
}

func TestToRGBAAnchorsAtOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 18))
	out := ToRGBA(src)
	assert.Equal(t, image.Point{}, out.Bounds().Min)
	assert.Equal(t, 10, out.Bounds().Dx())
	assert.Equal(t, 8, out.Bounds().Dy())
}

func TestParseInterpolation(t *testing.T) {
	cases := map[string]Interpolation{
		"nearest":    Nearest,
		"bilinear":   Bilinear,
		"":           Bilinear,
		"catmullrom": CatmullRom,
		"cubic":      CatmullRom,
	}
	for name, want := range cases {
		got, err := ParseInterpolation(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseInterpolation("sinc")
	assert.Error(t, err)
}

func TestListImagesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.png", "notes.txt", "c.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	files, err := ListImages(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.png", filepath.Base(files[0]))
	assert.Equal(t, "b.jpg", filepath.Base(files[1]))
	assert.Equal(t, "c.jpeg", filepath.Base(files[2]))
}

func TestResizeDir(t *testing.T) {
	inDir, outDir := t.TempDir(), filepath.Join(t.TempDir(), "resized")
	for _, name := range []string{"l1.png", "l2.png"} {
		require.NoError(t, Save(filepath.Join(inDir, name), solidImage(40, 30, color.RGBA{G: 200, A: 255})))
	}

	n, err := ResizeDir(inDir, outDir, 20, 15, Bilinear)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := Load(filepath.Join(outDir, "l1.png"))
	require.NoError(t, err)
	assert.Equal(t, 20, got.Bounds().Dx())
	assert.Equal(t, 15, got.Bounds().Dy())
}

func TestResizeDirEmpty(t *testing.T) {
	_, err := ResizeDir(t.TempDir(), t.TempDir(), 10, 10, Bilinear)
	assert.Error(t, err)
}

func TestDrawCircleAndLine(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	red := color.RGBA{R: 255, A: 255}

	DrawCircle(img, 16, 16, 4, -1, red)
	r, _, _, _ := img.At(16, 16).RGBA()
	assert.Equal(t, uint32(255), r>>8, "filled circle covers center")

	DrawCircle(img, 16, 16, 8, 1, red)
	r, _, _, _ = img.At(24, 16).RGBA()
	assert.Equal(t, uint32(255), r>>8, "outline covers radius")

	blue := color.RGBA{B: 255, A: 255}
	DrawLine(img, 0, 0, 10, 0, blue)
	_, _, b, _ := img.At(5, 0).RGBA()
	assert.Equal(t, uint32(255), b>>8)
}

func TestDrawText(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 30))
	DrawText(img, 4, 20, "Avg Error: 0.500 px", color.RGBA{R: 255, G: 255, B: 255, A: 255})

	// At least one pixel gets inked.
	inked := false
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			inked = true
			break
		}
	}
	assert.True(t, inked)
}
