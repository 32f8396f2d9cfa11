// Package corners detects chessboard inner corners on calibration images
// and persists the per-image correspondence sets consumed by the
// calibration solver and the residual analyzer.
package corners

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/parallax-vision/stereopipe/internal/geometry"
)

// ErrNoBoard is returned when an image yields no usable corner grid.
var ErrNoBoard = errors.New("chessboard not found")

// ImageCorners is the detected 2D correspondence set for one image.
type ImageCorners struct {
	File   string            `json:"file"`
	Points []geometry.Point2 `json:"points"`
}

// Set groups the correspondence sets of one camera's calibration images.
type Set struct {
	BoardWidth  int            `json:"board_width"`
	BoardHeight int            `json:"board_height"`
	Images      []ImageCorners `json:"images"`
}

// Detector locates a full grid of boardWidth x boardHeight inner corners.
// The second return value is false when no complete grid was found.
type Detector interface {
	Detect(img *image.Gray, boardWidth, boardHeight int) ([]geometry.Point2, bool)
}

// BoardObjectPoints builds the board-frame 3D points of a chessboard with
// the given inner-corner counts, in row-major order matching the detector's
// output ordering. The board lies in the Z=0 plane.
func BoardObjectPoints(boardWidth, boardHeight int, squareSize float64) []r3.Vector {
	pts := make([]r3.Vector, 0, boardWidth*boardHeight)
	for y := 0; y < boardHeight; y++ {
		for x := 0; x < boardWidth; x++ {
			pts = append(pts, r3.Vector{
				X: float64(x) * squareSize,
				Y: float64(y) * squareSize,
			})
		}
	}
	return pts
}

// Save writes the set to path as JSON, creating parent directories.
func (s *Set) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create corners directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode corners: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write corners %s: %w", path, err)
	}
	return nil
}

// Load reads a correspondence set written by Save.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corners %s: %w", path, err)
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode corners %s: %w", path, err)
	}
	if len(s.Images) == 0 {
		return nil, fmt.Errorf("%s: corner file holds no images", path)
	}
	want := s.BoardWidth * s.BoardHeight
	for _, img := range s.Images {
		if len(img.Points) != want {
			return nil, fmt.Errorf("%s: image %s has %d points, want %d",
				path, img.File, len(img.Points), want)
		}
	}
	return &s, nil
}
