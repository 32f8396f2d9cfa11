// Command stereopipe runs the stereo reconstruction pipeline over a
// calibrated image pair directory: resize, detect chessboard corners,
// calibrate each camera, calibrate the stereo rig and reconstruct a colored
// point cloud with diagnostic artifacts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parallax-vision/stereopipe/internal/config"
	"github.com/parallax-vision/stereopipe/internal/pipeline"
	"github.com/parallax-vision/stereopipe/internal/report"
	"github.com/parallax-vision/stereopipe/internal/runstore"
	"github.com/parallax-vision/stereopipe/internal/version"
)

var (
	dataDir     = flag.String("data", "data", "input directory holding left/ and right/ image folders")
	outDir      = flag.String("out", "output", "artifact output directory")
	configPath  = flag.String("config", "", "optional pipeline config JSON")
	stageName   = flag.String("stage", "preprocess", "stage to start from: preprocess, corners, mono-calibrate, stereo-calibrate, reconstruct")
	dbPath      = flag.String("db", "runs.db", "run index database path")
	listRuns    = flag.Bool("list-runs", false, "list recent runs and exit")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("stereopipe %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	db, err := runstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("opening run index: %v", err)
	}
	defer db.Close()

	if *listRuns {
		printRuns(db)
		return
	}

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	first, err := pipeline.ParseStage(*stageName)
	if err != nil {
		log.Fatal(err)
	}

	started := time.Now()
	runID, err := db.BeginRun(*dataDir, started)
	if err != nil {
		log.Fatalf("recording run: %v", err)
	}
	log.Printf("run %s: data=%s out=%s from stage %s", runID, *dataDir, *outDir, first)

	p := pipeline.New(*dataDir, *outDir, cfg)
	results := p.Run(first)

	stages := make([]report.StageInfo, 0, len(results))
	failed := false
	for _, res := range results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
			failed = true
		}
		if err := db.RecordStage(runstore.StageRecord{
			RunID:    runID,
			Stage:    res.Stage.String(),
			Artifact: res.Artifact,
			Error:    errText,
			Duration: res.Duration,
		}); err != nil {
			log.Printf("recording stage %s: %v", res.Stage, err)
		}
		stages = append(stages, report.StageInfo{
			Name:     res.Stage.String(),
			Artifact: res.Artifact,
			Err:      res.Err,
			Duration: res.Duration,
		})
	}
	if err := db.FinishRun(runID, time.Now(), p.FinalPoints, p.RMS); err != nil {
		log.Printf("finishing run: %v", err)
	}

	reportPath := *outDir + "/report.html"
	if err := report.Write(reportPath, runID, stages, p.Residuals); err != nil {
		log.Printf("writing report: %v", err)
	} else {
		log.Printf("report written to %s", reportPath)
	}

	if failed {
		for _, res := range results {
			if res.Err != nil {
				log.Printf("FAILED %v", res.Err)
			}
		}
		os.Exit(1)
	}
	log.Printf("run %s complete in %s", runID, time.Since(started).Round(time.Millisecond))
}

func printRuns(db *runstore.DB) {
	runs, err := db.ListRuns(20)
	if err != nil {
		log.Fatalf("listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  points=%d  rms=%.4f  %s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Points, r.RMSError, r.DataDir)
	}
}
