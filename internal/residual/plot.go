package residual

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePlot renders a bar chart of the per-image average residuals to a PNG
// at path, with the run-wide average in the title.
func SavePlot(images []*ImageResidual, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Reprojection error (run average %.3f px)", Aggregate(images))
	p.X.Label.Text = "Image"
	p.Y.Label.Text = "Average error (px)"

	values := make(plotter.Values, len(images))
	for i, img := range images {
		values[i] = img.Average
	}
	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return fmt.Errorf("building residual chart: %w", err)
	}
	p.Add(bars)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving residual chart: %w", err)
	}
	return nil
}
