package pipeline

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/parallax-vision/stereopipe/internal/calib"
	"github.com/parallax-vision/stereopipe/internal/cloud"
	"github.com/parallax-vision/stereopipe/internal/corners"
	"github.com/parallax-vision/stereopipe/internal/disparity"
	"github.com/parallax-vision/stereopipe/internal/geometry"
	"github.com/parallax-vision/stereopipe/internal/monitoring"
	"github.com/parallax-vision/stereopipe/internal/raster"
	"github.com/parallax-vision/stereopipe/internal/rectify"
	"github.com/parallax-vision/stereopipe/internal/residual"
	"github.com/parallax-vision/stereopipe/internal/solver"
)

// runPreprocess resizes both raw image directories to the working
// resolution. Artifact: the resized directories.
func (p *Pipeline) runPreprocess() (string, error) {
	interp, err := raster.ParseInterpolation(p.Config.GetInterpolation())
	if err != nil {
		return p.OutDir, err
	}
	w, h := p.Config.GetImageWidth(), p.Config.GetImageHeight()

	n, err := raster.ResizeDir(filepath.Join(p.DataDir, "left"), p.leftResizedDir(), w, h, interp)
	if err != nil {
		return p.leftResizedDir(), err
	}
	m, err := raster.ResizeDir(filepath.Join(p.DataDir, "right"), p.rightResizedDir(), w, h, interp)
	if err != nil {
		return p.rightResizedDir(), err
	}
	monitoring.Logf("pipeline: resized %d left and %d right images to %dx%d", n, m, w, h)
	return p.OutDir, nil
}

// runCorners detects the chessboard grid on every resized image and
// persists one correspondence set per camera, plus annotated overlays.
// Artifact: the corner JSON files.
func (p *Pipeline) runCorners() (string, error) {
	bw, bh := p.Config.GetBoardWidth(), p.Config.GetBoardHeight()

	left, err := corners.ScanDir(p.leftResizedDir(), filepath.Join(p.OutDir, "corners_left"), p.Detector, bw, bh)
	if err != nil {
		return p.leftCornersPath(), err
	}
	right, err := corners.ScanDir(p.rightResizedDir(), filepath.Join(p.OutDir, "corners_right"), p.Detector, bw, bh)
	if err != nil {
		return p.rightCornersPath(), err
	}
	if err := left.Set.Save(p.leftCornersPath()); err != nil {
		return p.leftCornersPath(), err
	}
	if err := right.Set.Save(p.rightCornersPath()); err != nil {
		return p.rightCornersPath(), err
	}
	monitoring.Logf("pipeline: corners found on %d/%d left and %d/%d right images",
		len(left.Set.Images), left.Scanned, len(right.Set.Images), right.Scanned)
	return p.leftCornersPath(), nil
}

// runMonoCalibrate calibrates each camera from its persisted corner set and
// stores one calibration record per camera, plus residual diagnostics and
// optional undistorted image copies. Artifact: the camera records.
func (p *Pipeline) runMonoCalibrate() (string, error) {
	cameras := []struct {
		cornersPath string
		recordPath  string
		imageDir    string
		name        string
	}{
		{p.leftCornersPath(), p.leftCameraPath(), p.leftResizedDir(), "left"},
		{p.rightCornersPath(), p.rightCameraPath(), p.rightResizedDir(), "right"},
	}

	for _, cam := range cameras {
		set, err := corners.Load(cam.cornersPath)
		if err != nil {
			return cam.cornersPath, err
		}
		objectPoints, imagePoints := correspondences(set, p.Config.GetSquareSize())

		result, err := solver.CalibrateMono(objectPoints, imagePoints)
		if err != nil {
			return cam.recordPath, fmt.Errorf("calibrating %s camera: %w", cam.name, err)
		}
		width, height, err := imageSize(cam.imageDir)
		if err != nil {
			return cam.imageDir, err
		}
		rec := &calib.CalibrationRecord{
			CameraMatrix:      result.CameraMatrix,
			Distortion:        result.Distortion,
			ImageWidth:        width,
			ImageHeight:       height,
			ReprojectionError: result.RMS,
		}
		if err := p.Store.SaveCamera(rec, cam.recordPath); err != nil {
			return cam.recordPath, err
		}
		monitoring.Logf("pipeline: %s camera calibrated, rms %.4f px", cam.name, result.RMS)

		if err := p.monoDiagnostics(cam.name, cam.imageDir, set, result, objectPoints, imagePoints); err != nil {
			return cam.recordPath, err
		}
	}
	return p.leftCameraPath(), nil
}

// monoDiagnostics writes the residual overlays, the residual chart and the
// optional undistorted images for one calibrated camera. Left-camera
// residuals are kept on the pipeline for run-level reporting.
func (p *Pipeline) monoDiagnostics(
	name, imageDir string,
	set *corners.Set,
	result *solver.MonoResult,
	objectPoints [][]r3.Vector,
	imagePoints [][]geometry.Point2,
) error {
	residuals, err := residual.AnalyzeAll(objectPoints, imagePoints,
		result.Rotations, result.Translations, result.K(), result.Distortion)
	if err != nil {
		return err
	}
	if name == "left" {
		p.Residuals = residuals
		p.RMS = result.RMS
	}

	overlayDir := filepath.Join(p.OutDir, "residual_images", name)
	for i, imgRec := range set.Images {
		src, err := raster.Load(filepath.Join(imageDir, imgRec.File))
		if err != nil {
			return err
		}
		out := filepath.Join(overlayDir, imgRec.File)
		if err := raster.Save(out, residual.Overlay(src, residuals[i])); err != nil {
			return err
		}
	}
	chart := filepath.Join(p.OutDir, fmt.Sprintf("residuals_%s.png", name))
	if err := residual.SavePlot(residuals, chart); err != nil {
		return err
	}

	if !p.Config.GetUndistortImages() {
		return nil
	}
	return p.undistortImages(name, imageDir, result)
}

// undistortImages writes a distortion-corrected copy of every calibration
// image, reusing the rectification remap with an identity rotation and the
// camera's own intrinsics as the target projection.
func (p *Pipeline) undistortImages(name, imageDir string, result *solver.MonoResult) error {
	width, height, err := imageSize(imageDir)
	if err != nil {
		return err
	}
	k := result.K()
	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	proj := []float64{
		k.At(0, 0), 0, k.At(0, 2), 0,
		0, k.At(1, 1), k.At(1, 2), 0,
		0, 0, 1, 0,
	}
	remap, err := rectify.BuildRemap(k, result.Distortion, identity, proj, width, height)
	if err != nil {
		return err
	}

	files, err := raster.ListImages(imageDir)
	if err != nil {
		return err
	}
	outDir := filepath.Join(p.OutDir, "undistorted_"+name)
	for _, file := range files {
		img, err := raster.Load(file)
		if err != nil {
			return err
		}
		if err := raster.Save(filepath.Join(outDir, filepath.Base(file)), remap.Apply(img)); err != nil {
			return err
		}
	}
	return nil
}

// runStereoCalibrate estimates the inter-camera transform from the views
// both cameras detected, then derives and stores the rectification
// transforms. Artifacts: the stereo and rectification records.
func (p *Pipeline) runStereoCalibrate() (string, error) {
	leftRec, err := p.Store.LoadCamera(p.leftCameraPath())
	if err != nil {
		return p.leftCameraPath(), err
	}
	rightRec, err := p.Store.LoadCamera(p.rightCameraPath())
	if err != nil {
		return p.rightCameraPath(), err
	}
	leftSet, err := corners.Load(p.leftCornersPath())
	if err != nil {
		return p.leftCornersPath(), err
	}
	rightSet, err := corners.Load(p.rightCornersPath())
	if err != nil {
		return p.rightCornersPath(), err
	}

	objectPoints, leftPoints, rightPoints := pairViews(leftSet, rightSet, p.Config.GetSquareSize())
	if len(objectPoints) == 0 {
		return p.stereoPath(), fmt.Errorf("no image has corners from both cameras")
	}

	result, err := solver.CalibrateStereo(objectPoints, leftPoints, rightPoints,
		leftRec.K(), rightRec.K(), leftRec.Distortion, rightRec.Distortion)
	if err != nil {
		return p.stereoPath(), err
	}
	stereo := &calib.StereoCalibrationRecord{
		Left:              *leftRec,
		Right:             *rightRec,
		Rotation:          result.Rotation,
		Translation:       result.Translation,
		Essential:         result.Essential,
		Fundamental:       result.Fundamental,
		ImageWidth:        leftRec.ImageWidth,
		ImageHeight:       leftRec.ImageHeight,
		ReprojectionError: result.RMS,
	}
	if err := p.Store.SaveStereo(stereo, p.stereoPath()); err != nil {
		return p.stereoPath(), err
	}
	monitoring.Logf("pipeline: stereo calibrated from %d paired views, rms %.4f px",
		len(objectPoints), result.RMS)

	rect, err := rectify.Compute(stereo, stereo.ImageWidth, stereo.ImageHeight)
	if err != nil {
		return p.rectifyPath(), err
	}
	if err := p.Store.SaveRectification(rect, p.rectifyPath()); err != nil {
		return p.rectifyPath(), err
	}
	return p.stereoPath(), nil
}

// runReconstruct rectifies the first paired frame, matches it densely and
// writes the model plus its visual artifacts. Artifact: the model file.
func (p *Pipeline) runReconstruct() (string, error) {
	stereo, err := p.Store.LoadStereo(p.stereoPath())
	if err != nil {
		return p.stereoPath(), err
	}
	rect, err := p.Store.LoadRectification(p.rectifyPath())
	if err != nil {
		return p.rectifyPath(), err
	}

	leftImg, rightImg, err := p.firstPair()
	if err != nil {
		return p.leftResizedDir(), err
	}
	b := leftImg.Bounds()
	w, h := b.Dx(), b.Dy()

	leftMap, err := rectify.BuildRemap(stereo.Left.K(), stereo.Left.Distortion, rect.R1, rect.P1, w, h)
	if err != nil {
		return p.rectifyPath(), err
	}
	rightMap, err := rectify.BuildRemap(stereo.Right.K(), stereo.Right.Distortion, rect.R2, rect.P2, w, h)
	if err != nil {
		return p.rectifyPath(), err
	}
	rectLeft := leftMap.Apply(leftImg)
	rectRight := rightMap.Apply(rightImg)
	if err := raster.Save(filepath.Join(p.OutDir, "rectified_left.jpg"), rectLeft); err != nil {
		return p.OutDir, err
	}
	if err := raster.Save(filepath.Join(p.OutDir, "rectified_right.jpg"), rectRight); err != nil {
		return p.OutDir, err
	}

	quality, err := disparity.ParseQuality(p.Config.GetMatcherQuality())
	if err != nil {
		return p.OutDir, err
	}
	dmap, err := disparity.Compute(raster.Gray(rectLeft), raster.Gray(rectRight), quality)
	if err != nil {
		return p.OutDir, err
	}
	if err := raster.Save(filepath.Join(p.OutDir, "disparity_map.jpg"), dmap.Visualize()); err != nil {
		return p.OutDir, err
	}
	monitoring.Logf("pipeline: disparity computed, %d/%d pixels matched", dmap.Valid(), w*h)

	model, err := cloud.FromDisparity(dmap, rectLeft, rect.Q)
	if err != nil {
		return p.OutDir, err
	}
	opts := cloud.FilterOptions{
		MaxDistance: p.Config.GetMaxDistance(),
		MinZ:        p.Config.GetMinDepth(),
		ScaleTarget: p.Config.GetScaleTarget(),
		FallbackCap: p.Config.GetFallbackCap(),
	}
	kept := model.Filter(opts)
	p.FinalPoints = kept
	monitoring.Logf("pipeline: filtered point cloud, %d points remaining", kept)

	format, err := cloud.ParseFormat(p.Config.GetOutputFormat())
	if err != nil {
		return p.OutDir, err
	}
	modelPath := p.modelPath(format.Ext())
	if err := model.Save(modelPath, format); err != nil {
		return modelPath, err
	}
	if err := model.SaveStatistics(p.statisticsPath()); err != nil {
		return p.statisticsPath(), err
	}
	if kept > 0 {
		if err := model.ProjectionViews(filepath.Join(p.OutDir, "views")); err != nil {
			return modelPath, err
		}
	}
	return modelPath, nil
}

// correspondences expands a corner set into the solver's parallel arrays.
func correspondences(set *corners.Set, squareSize float64) ([][]r3.Vector, [][]geometry.Point2) {
	board := corners.BoardObjectPoints(set.BoardWidth, set.BoardHeight, squareSize)
	objectPoints := make([][]r3.Vector, len(set.Images))
	imagePoints := make([][]geometry.Point2, len(set.Images))
	for i, img := range set.Images {
		objectPoints[i] = board
		imagePoints[i] = img.Points
	}
	return objectPoints, imagePoints
}

// pairViews matches the two cameras' corner sets by file name and returns
// the solver arrays for the views both cameras saw.
func pairViews(left, right *corners.Set, squareSize float64) ([][]r3.Vector, [][]geometry.Point2, [][]geometry.Point2) {
	board := corners.BoardObjectPoints(left.BoardWidth, left.BoardHeight, squareSize)
	rightByFile := make(map[string][]geometry.Point2, len(right.Images))
	for _, img := range right.Images {
		rightByFile[img.File] = img.Points
	}

	var objectPoints [][]r3.Vector
	var leftPoints, rightPoints [][]geometry.Point2
	for _, img := range left.Images {
		rp, ok := rightByFile[img.File]
		if !ok {
			continue
		}
		objectPoints = append(objectPoints, board)
		leftPoints = append(leftPoints, img.Points)
		rightPoints = append(rightPoints, rp)
	}
	return objectPoints, leftPoints, rightPoints
}

// firstPair loads the first image name present in both resized directories.
func (p *Pipeline) firstPair() (image.Image, image.Image, error) {
	leftFiles, err := raster.ListImages(p.leftResizedDir())
	if err != nil {
		return nil, nil, err
	}
	rightFiles, err := raster.ListImages(p.rightResizedDir())
	if err != nil {
		return nil, nil, err
	}
	rightByName := make(map[string]string, len(rightFiles))
	for _, f := range rightFiles {
		rightByName[filepath.Base(f)] = f
	}
	for _, lf := range leftFiles {
		rf, ok := rightByName[filepath.Base(lf)]
		if !ok {
			continue
		}
		leftImg, err := raster.Load(lf)
		if err != nil {
			return nil, nil, err
		}
		rightImg, err := raster.Load(rf)
		if err != nil {
			return nil, nil, err
		}
		return leftImg, rightImg, nil
	}
	return nil, nil, fmt.Errorf("no image pair shared by %s and %s", p.leftResizedDir(), p.rightResizedDir())
}

// imageSize returns the dimensions of the first image in dir.
func imageSize(dir string) (int, int, error) {
	files, err := raster.ListImages(dir)
	if err != nil {
		return 0, 0, err
	}
	if len(files) == 0 {
		return 0, 0, fmt.Errorf("no images in %s", dir)
	}
	img, err := raster.Load(files[0])
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
