// Package raster wraps the image I/O used by the pipeline: loading and
// saving JPEG/PNG files, resizing with a selectable interpolation mode and
// grayscale conversion.
package raster

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Interpolation selects the resampling kernel used by Resize.
type Interpolation int

const (
	// Nearest is nearest-neighbour sampling.
	Nearest Interpolation = iota
	// Bilinear is bilinear sampling, the pipeline default.
	Bilinear
	// CatmullRom is a bicubic kernel for higher quality downsampling.
	CatmullRom
)

// ParseInterpolation maps a config string to an Interpolation mode.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "nearest":
		return Nearest, nil
	case "", "bilinear", "linear":
		return Bilinear, nil
	case "catmullrom", "cubic":
		return CatmullRom, nil
	}
	return Bilinear, fmt.Errorf("unknown interpolation mode %q", s)
}

func (i Interpolation) scaler() xdraw.Scaler {
	switch i {
	case Nearest:
		return xdraw.NearestNeighbor
	case CatmullRom:
		return xdraw.CatmullRom
	default:
		return xdraw.BiLinear
	}
}

// Load decodes a JPEG or PNG image from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// Save encodes img to path; the format follows the file extension
// (.png, otherwise JPEG).
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		if err := png.Encode(f, img); err != nil {
			return fmt.Errorf("encode png %s: %w", path, err)
		}
		return nil
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 92}); err != nil {
		return fmt.Errorf("encode jpeg %s: %w", path, err)
	}
	return nil
}

// Resize scales img to width x height with the given interpolation mode.
func Resize(img image.Image, width, height int, mode Interpolation) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	mode.scaler().Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// Gray converts img to an 8-bit grayscale image.
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying
// when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	return out
}

// imageExtensions are the file types picked up by directory operations.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
}

// ListImages returns the image files directly inside dir, sorted by name so
// per-image artifacts stay index-stable across runs.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ResizeDir resizes every image in inDir to width x height and writes the
// results under outDir with the same base names. Returns the number of
// images written.
func ResizeDir(inDir, outDir string, width, height int, mode Interpolation) (int, error) {
	files, err := ListImages(inDir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no images in %s", inDir)
	}
	count := 0
	for _, file := range files {
		img, err := Load(file)
		if err != nil {
			return count, err
		}
		out := filepath.Join(outDir, filepath.Base(file))
		if err := Save(out, Resize(img, width, height, mode)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
