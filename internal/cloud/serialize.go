package cloud

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
)

// Format selects the on-disk point cloud encoding.
type Format int

const (
	FormatPLY Format = iota
	FormatXYZ
	FormatOBJ
)

// ParseFormat maps a config string to a format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "ply":
		return FormatPLY, nil
	case "xyz":
		return FormatXYZ, nil
	case "obj":
		return FormatOBJ, nil
	}
	return FormatPLY, fmt.Errorf("cloud: unknown output format %q", s)
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatXYZ:
		return ".xyz"
	case FormatOBJ:
		return ".obj"
	}
	return ".ply"
}

func (f Format) String() string { return f.Ext()[1:] }

// rgb converts the internal blue-first channel order to the red-first order
// the PLY vertex lines require. All channel swapping happens here and
// nowhere else.
func rgb(c Color) (r, g, b uint8) {
	return c.R, c.G, c.B
}

// Save writes the cloud to path in the given format. PLY carries per-point
// color; XYZ and OBJ carry coordinates only. The parent directory is created
// as needed.
func (c *PointCloud) Save(path string, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	switch format {
	case FormatPLY:
		fmt.Fprintln(w, "ply")
		fmt.Fprintln(w, "format ascii 1.0")
		fmt.Fprintf(w, "element vertex %d\n", len(c.Points))
		fmt.Fprintln(w, "property float x")
		fmt.Fprintln(w, "property float y")
		fmt.Fprintln(w, "property float z")
		fmt.Fprintln(w, "property uchar red")
		fmt.Fprintln(w, "property uchar green")
		fmt.Fprintln(w, "property uchar blue")
		fmt.Fprintln(w, "end_header")
		for i, p := range c.Points {
			r, g, b := rgb(c.ColorAt(i))
			fmt.Fprintf(w, "%g %g %g %d %d %d\n", p.X, p.Y, p.Z, r, g, b)
		}
	case FormatXYZ:
		for _, p := range c.Points {
			fmt.Fprintf(w, "%g %g %g\n", p.X, p.Y, p.Z)
		}
	case FormatOBJ:
		for _, p := range c.Points {
			fmt.Fprintf(w, "v %g %g %g\n", p.X, p.Y, p.Z)
		}
	default:
		return fmt.Errorf("cloud: unknown format %d", format)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Load reads a point cloud back from a .ply, .xyz or .obj file. Colorless
// formats get a default white per point; malformed lines are skipped.
func Load(path string) (*PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	c := &PointCloud{}
	sc := bufio.NewScanner(f)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		inHeader := true
		for sc.Scan() {
			line := sc.Text()
			if inHeader {
				if line == "end_header" {
					inHeader = false
				}
				continue
			}
			var p r3.Vector
			var r, g, b int
			if n, _ := fmt.Sscan(line, &p.X, &p.Y, &p.Z, &r, &g, &b); n >= 6 {
				c.Points = append(c.Points, p)
				c.Colors = append(c.Colors, Color{B: uint8(b), G: uint8(g), R: uint8(r)})
			} else if n >= 3 {
				c.Points = append(c.Points, p)
				c.Colors = append(c.Colors, Color{B: 255, G: 255, R: 255})
			}
		}
		if inHeader {
			return nil, fmt.Errorf("cloud: %s: malformed ply header", path)
		}
	case ".xyz":
		for sc.Scan() {
			var p r3.Vector
			if n, _ := fmt.Sscan(sc.Text(), &p.X, &p.Y, &p.Z); n == 3 {
				c.Points = append(c.Points, p)
				c.Colors = append(c.Colors, Color{B: 255, G: 255, R: 255})
			}
		}
	case ".obj":
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "v ") {
				continue
			}
			var p r3.Vector
			if n, _ := fmt.Sscan(line[2:], &p.X, &p.Y, &p.Z); n == 3 {
				c.Points = append(c.Points, p)
				c.Colors = append(c.Colors, Color{B: 255, G: 255, R: 255})
			}
		}
	default:
		return nil, fmt.Errorf("cloud: unsupported model format %q", filepath.Ext(path))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(c.Points) == 0 {
		return nil, ErrEmptyCloud
	}
	return c, nil
}

// SaveStatistics writes descriptive statistics for the cloud: point count,
// bounding box, centroid and distances from it. An empty cloud writes a
// single marker line and still succeeds.
func (c *PointCloud) SaveStatistics(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if len(c.Points) == 0 {
		fmt.Fprintln(w, "No points in model")
		return w.Flush()
	}

	minPt, maxPt, _ := c.BoundingBox()
	var center r3.Vector
	for _, p := range c.Points {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(c.Points)))

	total, maxDist := 0.0, 0.0
	for _, p := range c.Points {
		d := p.Sub(center).Norm()
		total += d
		if d > maxDist {
			maxDist = d
		}
	}

	fmt.Fprintln(w, "3D Model Statistics")
	fmt.Fprintln(w, "===================")
	fmt.Fprintf(w, "Total points: %d\n", len(c.Points))
	fmt.Fprintln(w, "Bounding box:")
	fmt.Fprintf(w, "  Min: (%g, %g, %g)\n", minPt.X, minPt.Y, minPt.Z)
	fmt.Fprintf(w, "  Max: (%g, %g, %g)\n", maxPt.X, maxPt.Y, maxPt.Z)
	fmt.Fprintf(w, "  Size: (%g, %g, %g)\n", maxPt.X-minPt.X, maxPt.Y-minPt.Y, maxPt.Z-minPt.Z)
	fmt.Fprintf(w, "Center: (%g, %g, %g)\n", center.X, center.Y, center.Z)
	fmt.Fprintf(w, "Average distance from center: %g\n", total/float64(len(c.Points)))
	fmt.Fprintf(w, "Maximum distance from center: %g\n", maxDist)
	return w.Flush()
}
