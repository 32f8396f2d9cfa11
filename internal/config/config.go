// Package config loads the pipeline's tuning parameters from JSON. Fields
// are pointers so a partial file only overrides what it names; the Get*
// methods supply the defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PipelineConfig is the root configuration for a reconstruction run. All
// fields are optional in the JSON file.
type PipelineConfig struct {
	// Chessboard geometry
	BoardWidth  *int     `json:"board_width,omitempty"`
	BoardHeight *int     `json:"board_height,omitempty"`
	SquareSize  *float64 `json:"square_size,omitempty"` // board units, e.g. millimeters

	// Preprocess params
	ImageWidth    *int    `json:"image_width,omitempty"`
	ImageHeight   *int    `json:"image_height,omitempty"`
	Interpolation *string `json:"interpolation,omitempty"` // nearest, bilinear, catmullrom

	// Reconstruction params
	MatcherQuality *string  `json:"matcher_quality,omitempty"` // low, medium, high
	OutputFormat   *string  `json:"output_format,omitempty"`   // ply, xyz, obj
	MaxDistance    *float64 `json:"max_distance,omitempty"`
	MinDepth       *float64 `json:"min_depth,omitempty"`
	ScaleTarget    *float64 `json:"scale_target,omitempty"`
	FallbackCap    *int     `json:"fallback_cap,omitempty"`

	// Diagnostics
	UndistortImages *bool `json:"undistort_images,omitempty"`
}

// EmptyPipelineConfig returns a config with every field unset, so the Get*
// defaults apply.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// Load reads a PipelineConfig from a JSON file. Omitted fields keep their
// defaults, so partial configs are safe.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all set values are usable.
func (c *PipelineConfig) Validate() error {
	if c.BoardWidth != nil && *c.BoardWidth < 2 {
		return fmt.Errorf("board_width must be at least 2, got %d", *c.BoardWidth)
	}
	if c.BoardHeight != nil && *c.BoardHeight < 2 {
		return fmt.Errorf("board_height must be at least 2, got %d", *c.BoardHeight)
	}
	if c.SquareSize != nil && *c.SquareSize <= 0 {
		return fmt.Errorf("square_size must be positive, got %f", *c.SquareSize)
	}
	if c.ImageWidth != nil && *c.ImageWidth <= 0 {
		return fmt.Errorf("image_width must be positive, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight <= 0 {
		return fmt.Errorf("image_height must be positive, got %d", *c.ImageHeight)
	}
	if c.MaxDistance != nil && *c.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive, got %f", *c.MaxDistance)
	}
	if c.MinDepth != nil && *c.MinDepth < 0 {
		return fmt.Errorf("min_depth must be non-negative, got %f", *c.MinDepth)
	}
	if c.ScaleTarget != nil && *c.ScaleTarget <= 0 {
		return fmt.Errorf("scale_target must be positive, got %f", *c.ScaleTarget)
	}
	if c.FallbackCap != nil && *c.FallbackCap < 1 {
		return fmt.Errorf("fallback_cap must be at least 1, got %d", *c.FallbackCap)
	}
	if c.MatcherQuality != nil {
		switch *c.MatcherQuality {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("matcher_quality must be low, medium or high, got %q", *c.MatcherQuality)
		}
	}
	if c.OutputFormat != nil {
		switch *c.OutputFormat {
		case "ply", "xyz", "obj":
		default:
			return fmt.Errorf("output_format must be ply, xyz or obj, got %q", *c.OutputFormat)
		}
	}
	if c.Interpolation != nil {
		switch *c.Interpolation {
		case "nearest", "bilinear", "catmullrom":
		default:
			return fmt.Errorf("interpolation must be nearest, bilinear or catmullrom, got %q", *c.Interpolation)
		}
	}
	return nil
}

// GetBoardWidth returns the inner-corner column count of the chessboard.
func (c *PipelineConfig) GetBoardWidth() int {
	if c == nil || c.BoardWidth == nil {
		return 9
	}
	return *c.BoardWidth
}

// GetBoardHeight returns the inner-corner row count of the chessboard.
func (c *PipelineConfig) GetBoardHeight() int {
	if c == nil || c.BoardHeight == nil {
		return 6
	}
	return *c.BoardHeight
}

// GetSquareSize returns the chessboard square edge length in board units.
func (c *PipelineConfig) GetSquareSize() float64 {
	if c == nil || c.SquareSize == nil {
		return 25.0
	}
	return *c.SquareSize
}

// GetImageWidth returns the working image width for the preprocess stage.
func (c *PipelineConfig) GetImageWidth() int {
	if c == nil || c.ImageWidth == nil {
		return 1280
	}
	return *c.ImageWidth
}

// GetImageHeight returns the working image height for the preprocess stage.
func (c *PipelineConfig) GetImageHeight() int {
	if c == nil || c.ImageHeight == nil {
		return 720
	}
	return *c.ImageHeight
}

// GetInterpolation returns the resampling kernel name for resizing.
func (c *PipelineConfig) GetInterpolation() string {
	if c == nil || c.Interpolation == nil {
		return "bilinear"
	}
	return *c.Interpolation
}

// GetMatcherQuality returns the block matcher preset name.
func (c *PipelineConfig) GetMatcherQuality() string {
	if c == nil || c.MatcherQuality == nil {
		return "medium"
	}
	return *c.MatcherQuality
}

// GetOutputFormat returns the point cloud output format name.
func (c *PipelineConfig) GetOutputFormat() string {
	if c == nil || c.OutputFormat == nil {
		return "ply"
	}
	return *c.OutputFormat
}

// GetMaxDistance returns the point filter distance threshold.
func (c *PipelineConfig) GetMaxDistance() float64 {
	if c == nil || c.MaxDistance == nil {
		return 10.0
	}
	return *c.MaxDistance
}

// GetMinDepth returns the point filter depth floor.
func (c *PipelineConfig) GetMinDepth() float64 {
	if c == nil || c.MinDepth == nil {
		return 0.1
	}
	return *c.MinDepth
}

// GetScaleTarget returns the extent sub-unit clouds are rescaled to.
func (c *PipelineConfig) GetScaleTarget() float64 {
	if c == nil || c.ScaleTarget == nil {
		return 10.0
	}
	return *c.ScaleTarget
}

// GetFallbackCap returns the permissive-filter point cap.
func (c *PipelineConfig) GetFallbackCap() int {
	if c == nil || c.FallbackCap == nil {
		return 10000
	}
	return *c.FallbackCap
}

// GetUndistortImages reports whether the mono stage writes undistorted
// copies of the calibration images.
func (c *PipelineConfig) GetUndistortImages() bool {
	if c == nil || c.UndistortImages == nil {
		return true
	}
	return *c.UndistortImages
}
