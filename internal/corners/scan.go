package corners

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/parallax-vision/stereopipe/internal/monitoring"
	"github.com/parallax-vision/stereopipe/internal/raster"
)

// ScanResult reports what a directory scan found.
type ScanResult struct {
	Set      *Set
	Scanned  int
	Rejected int
}

// ScanDir runs the detector over every image in dir and collects the
// complete grids into a Set. Images with no usable grid are logged and
// skipped; the scan only fails when no image at all yields a grid. When
// overlayDir is non-empty, an annotated copy of each accepted image is
// written there.
func ScanDir(dir, overlayDir string, det Detector, boardWidth, boardHeight int) (*ScanResult, error) {
	files, err := raster.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	res := &ScanResult{Set: &Set{BoardWidth: boardWidth, BoardHeight: boardHeight}}
	for _, file := range files {
		res.Scanned++
		img, err := raster.Load(file)
		if err != nil {
			return nil, err
		}
		pts, ok := det.Detect(raster.Gray(img), boardWidth, boardHeight)
		if !ok {
			res.Rejected++
			monitoring.Logf("corners: no %dx%d grid in %s", boardWidth, boardHeight, file)
			continue
		}
		res.Set.Images = append(res.Set.Images, ImageCorners{
			File:   filepath.Base(file),
			Points: pts,
		})

		if overlayDir != "" {
			overlay := raster.ToRGBA(img)
			for _, p := range pts {
				raster.DrawCircle(overlay, int(p.X+0.5), int(p.Y+0.5), 4, 2, color.RGBA{R: 255, A: 255})
			}
			out := filepath.Join(overlayDir, filepath.Base(file))
			if err := raster.Save(out, overlay); err != nil {
				return nil, err
			}
		}
	}
	if len(res.Set.Images) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoBoard)
	}
	return res, nil
}
