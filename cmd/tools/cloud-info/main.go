// Command cloud-info prints descriptive statistics for a saved point cloud
// model (.ply, .xyz or .obj).
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/parallax-vision/stereopipe/internal/cloud"
)

var sample = flag.Int("sample", 5, "number of sample points to print")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: cloud-info [-sample N] <model file>")
	}
	path := flag.Arg(0)

	c, err := cloud.Load(path)
	if err != nil {
		log.Fatalf("loading %s: %v", path, err)
	}

	minPt, maxPt, _ := c.BoundingBox()
	fmt.Printf("%s: %d points\n", path, c.Len())
	fmt.Printf("bounding box min (%g, %g, %g) max (%g, %g, %g)\n",
		minPt.X, minPt.Y, minPt.Z, maxPt.X, maxPt.Y, maxPt.Z)
	fmt.Printf("extents (%g, %g, %g)\n",
		maxPt.X-minPt.X, maxPt.Y-minPt.Y, maxPt.Z-minPt.Z)

	n := *sample
	if n > c.Len() {
		n = c.Len()
	}
	for i := 0; i < n; i++ {
		p := c.Points[i]
		col := c.ColorAt(i)
		fmt.Printf("  point %d: (%g, %g, %g) rgb(%d, %d, %d)\n",
			i, p.X, p.Y, p.Z, col.R, col.G, col.B)
	}
}
