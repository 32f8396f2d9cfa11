// Package pipeline sequences the five reconstruction stages and their
// on-disk artifacts. Each stage loads what the previous stage persisted, so
// stages are independently re-runnable; a stage failure skips every
// dependent stage but leaves earlier artifacts intact.
package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/parallax-vision/stereopipe/internal/calib"
	"github.com/parallax-vision/stereopipe/internal/config"
	"github.com/parallax-vision/stereopipe/internal/corners"
	"github.com/parallax-vision/stereopipe/internal/monitoring"
	"github.com/parallax-vision/stereopipe/internal/residual"
)

// Stage identifies one step of the reconstruction pipeline.
type Stage int

const (
	StagePreprocess Stage = iota
	StageCorners
	StageMonoCalibrate
	StageStereoCalibrate
	StageReconstruct
	stageCount
)

var stageNames = [stageCount]string{
	"preprocess",
	"corners",
	"mono-calibrate",
	"stereo-calibrate",
	"reconstruct",
}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage maps a stage name to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("pipeline: unknown stage %q", name)
}

// StageResult is the tagged outcome of one stage: either an artifact path
// or a failure reason, never both.
type StageResult struct {
	Stage    Stage
	Artifact string
	Err      error
	Duration time.Duration
}

// OK reports whether the stage succeeded.
func (r StageResult) OK() bool { return r.Err == nil }

// Pipeline holds the wiring for one reconstruction run. DataDir must
// contain left/ and right/ image directories; all artifacts land under
// OutDir.
type Pipeline struct {
	DataDir  string
	OutDir   string
	Config   *config.PipelineConfig
	Store    *calib.Store
	Detector corners.Detector

	// Populated by the stages for run-level reporting.
	Residuals   []*residual.ImageResidual
	FinalPoints int
	RMS         float64
}

// New builds a pipeline with the default store and detector.
func New(dataDir, outDir string, cfg *config.PipelineConfig) *Pipeline {
	return &Pipeline{
		DataDir:  dataDir,
		OutDir:   outDir,
		Config:   cfg,
		Store:    calib.NewStore(),
		Detector: corners.NewSaddleDetector(),
	}
}

// Artifact paths. Every stage's output has a fixed name under OutDir so a
// later invocation can resume from any stage.
func (p *Pipeline) leftResizedDir() string  { return filepath.Join(p.OutDir, "left_resized") }
func (p *Pipeline) rightResizedDir() string { return filepath.Join(p.OutDir, "right_resized") }
func (p *Pipeline) leftCornersPath() string { return filepath.Join(p.OutDir, "left_corners.json") }
func (p *Pipeline) rightCornersPath() string {
	return filepath.Join(p.OutDir, "right_corners.json")
}
func (p *Pipeline) leftCameraPath() string {
	return filepath.Join(p.OutDir, "camera_calibration_left.json")
}
func (p *Pipeline) rightCameraPath() string {
	return filepath.Join(p.OutDir, "camera_calibration_right.json")
}
func (p *Pipeline) stereoPath() string  { return filepath.Join(p.OutDir, "stereo_calibration.json") }
func (p *Pipeline) rectifyPath() string { return filepath.Join(p.OutDir, "stereo_rectify.json") }
func (p *Pipeline) modelPath(ext string) string {
	return filepath.Join(p.OutDir, "reconstruction"+ext)
}
func (p *Pipeline) statisticsPath() string {
	return filepath.Join(p.OutDir, "model_statistics.txt")
}

// Run executes the stages from first onward and returns one result per
// stage attempted. After a failure, the remaining stages are reported as
// skipped failures without running.
func (p *Pipeline) Run(first Stage) []StageResult {
	type stageFunc func() (string, error)
	stages := [stageCount]stageFunc{
		p.runPreprocess,
		p.runCorners,
		p.runMonoCalibrate,
		p.runStereoCalibrate,
		p.runReconstruct,
	}

	var results []StageResult
	failed := false
	for s := first; s < stageCount; s++ {
		if failed {
			results = append(results, StageResult{
				Stage: s,
				Err:   fmt.Errorf("%s: skipped after earlier stage failure", s),
			})
			continue
		}
		start := time.Now()
		artifact, err := stages[s]()
		res := StageResult{Stage: s, Artifact: artifact, Duration: time.Since(start)}
		if err != nil {
			res.Err = fmt.Errorf("%s (%s): %w", s, artifact, err)
			res.Artifact = ""
			failed = true
			monitoring.Logf("pipeline: stage %s failed: %v", s, err)
		} else {
			monitoring.Logf("pipeline: stage %s done in %s -> %s", s, res.Duration.Round(time.Millisecond), artifact)
		}
		results = append(results, res)
	}
	return results
}
