// Package report renders a single-page HTML summary of a reconstruction
// run: per-stage outcomes and timings plus the calibration residual
// profile.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/parallax-vision/stereopipe/internal/residual"
)

// StageInfo is one stage's outcome as shown in the report.
type StageInfo struct {
	Name     string
	Artifact string
	Err      error
	Duration time.Duration
}

// Write renders the run report to an HTML file at path.
func Write(path, runID string, stages []StageInfo, residuals []*residual.ImageResidual) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	page := components.NewPage()
	page.AddCharts(stageChart(runID, stages))
	if len(residuals) > 0 {
		page.AddCharts(residualChart(residuals))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

func stageChart(runID string, stages []StageInfo) *charts.Bar {
	names := make([]string, 0, len(stages))
	durations := make([]opts.BarData, 0, len(stages))
	failed := 0
	for _, s := range stages {
		label := s.Name
		if s.Err != nil {
			label += " (failed)"
			failed++
		}
		names = append(names, label)
		durations = append(durations, opts.BarData{Value: s.Duration.Seconds()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reconstruction Run", Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Pipeline Stages",
			Subtitle: fmt.Sprintf("run=%s stages=%d failed=%d", runID, len(stages), failed),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Duration (s)"}),
	)
	bar.SetXAxis(names).
		AddSeries("duration", durations,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func residualChart(residuals []*residual.ImageResidual) *charts.Bar {
	names := make([]string, 0, len(residuals))
	avgs := make([]opts.BarData, 0, len(residuals))
	maxes := make([]opts.BarData, 0, len(residuals))
	for i, r := range residuals {
		names = append(names, fmt.Sprintf("img %d", i))
		avgs = append(avgs, opts.BarData{Value: r.Average})
		maxes = append(maxes, opts.BarData{Value: r.Max})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Reprojection Residuals",
			Subtitle: fmt.Sprintf("run average %.3f px", residual.Aggregate(residuals)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Error (px)"}),
	)
	bar.SetXAxis(names).
		AddSeries("average", avgs).
		AddSeries("max", maxes)
	return bar
}
