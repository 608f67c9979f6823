package calibration

import (
	"maps"
	"math/rand"
	"slices"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/chessboard"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/refine"
	"go.viam.com/sfm/scene"
)

// ErrNeedTwoViews reports that multi-view calibration was asked to run with
// fewer than two views carrying detections.
var ErrNeedTwoViews = errors.New("multi-view calibration needs at least two views with detections")

// boardCorrespondences collects, for every defined cell of a detected board,
// the board-plane reference point, the undistorted pixel, and the raw pixel.
func boardCorrespondences(
	board chessboard.Board,
	corners []chessboard.Corner,
	params *camera.Pinhole,
	squareSize float64,
) (ref, cur, raw []r2.Point) {
	n := board.CornerCount()
	ref = make([]r2.Point, 0, n)
	cur = make([]r2.Point, 0, n)
	raw = make([]r2.Point, 0, n)
	for i := 0; i < board.Rows(); i++ {
		for j := 0; j < board.Cols(); j++ {
			idx := board.At(i, j)
			if idx == chessboard.UndefinedCorner {
				continue
			}
			pt := corners[idx].Center
			ref = append(ref, r2.Point{X: float64(j) * squareSize, Y: float64(i) * squareSize})
			cur = append(cur, params.Undistort(pt))
			raw = append(raw, pt)
		}
	}
	return ref, cur, raw
}

// CalibrateMultiView calibrates every pinhole intrinsic of the scene from
// several views of a single checkerboard with Zhang's method, then estimates
// a pose per view by homography decomposition and refines everything through
// the adjuster. squareSize is the physical edge length of one board square.
//
// Landmarks and poses are rebuilt from scratch. Views whose detections hold
// anything but exactly one board, or whose homography finds fewer than 10
// inliers, are skipped with a log line; every intrinsic must be a pinhole
// model and every intrinsic must see the same board dimensions.
func CalibrateMultiView(
	sc *scene.Scene,
	detections map[int]*chessboard.Detections,
	squareSize float64,
	adjuster refine.Adjuster,
	rng *rand.Rand,
	logger golog.Logger,
) error {
	if squareSize <= 0 {
		return errors.Errorf("square size must be positive, got %f", squareSize)
	}
	viewsWithDetections := 0
	for viewID := range detections {
		if _, ok := sc.Views[viewID]; ok {
			viewsWithDetections++
		}
	}
	if viewsWithDetections < 2 {
		return ErrNeedTwoViews
	}
	sc.ClearReconstruction()

	// group the detected views by the intrinsic that captured them
	viewsByIntrinsic := make(map[int][]int)
	for _, viewID := range sc.ViewIDs() {
		if _, ok := detections[viewID]; !ok {
			continue
		}
		view := sc.Views[viewID]
		viewsByIntrinsic[view.IntrinsicID] = append(viewsByIntrinsic[view.IntrinsicID], viewID)
	}

	gridRows, gridCols := 0, 0
	for _, intrinsicID := range slices.Sorted(maps.Keys(sc.Intrinsics)) {
		viewIDs := viewsByIntrinsic[intrinsicID]
		if len(viewIDs) == 0 {
			logger.Debugf("intrinsic %d has no views with detections, skipping", intrinsicID)
			continue
		}
		params, err := camera.AsPinhole(sc.Intrinsics[intrinsicID])
		if err != nil {
			return errors.Wrapf(err, "cannot calibrate intrinsic %d", intrinsicID)
		}

		// fit one board-to-image homography per usable view
		homographies := make(map[int]*mat.Dense)
		boards := make(map[int]chessboard.Board)
		for _, viewID := range viewIDs {
			det := detections[viewID]
			if len(det.Boards) != 1 {
				logger.Infof("view %d has %d detected boards instead of 1, skipping", viewID, len(det.Boards))
				continue
			}
			view := sc.Views[viewID]
			ref, cur, _ := boardCorrespondences(det.Boards[0], det.Corners, params, squareSize)
			h, inliers, _, err := multiview.EstimateHomography(ref, cur, view.Width, view.Height, rng, logger)
			if err != nil {
				logger.Infow("skipping view, homography estimation failed", "view", viewID, "error", err)
				continue
			}
			if len(inliers) < minFitInliers {
				logger.Infof("view %d homography has only %d inliers, skipping", viewID, len(inliers))
				continue
			}
			homographies[viewID] = h
			boards[viewID] = det.Boards[0]
		}
		if len(homographies) == 0 {
			logger.Infof("no usable views for intrinsic %d, skipping", intrinsicID)
			continue
		}

		k, err := SolveZhang(homographies, logger)
		if err != nil {
			return errors.Wrapf(err, "cannot calibrate intrinsic %d", intrinsicID)
		}
		if err := params.SetK(k); err != nil {
			return errors.Wrapf(err, "cannot calibrate intrinsic %d", intrinsicID)
		}

		// the landmark grid spans the largest board seen by this intrinsic
		rows, cols := 0, 0
		for _, board := range boards {
			rows = max(rows, board.Rows())
			cols = max(cols, board.Cols())
		}
		if gridRows == 0 {
			gridRows, gridCols = rows, cols
			for i := 0; i < gridRows; i++ {
				for j := 0; j < gridCols; j++ {
					pt := r3.Vector{X: float64(j) * squareSize, Y: float64(i) * squareSize, Z: 0}
					sc.Landmarks[i*gridCols+j] = scene.NewLandmark(pt, scene.DescriptorSIFT)
				}
			}
		} else if rows != gridRows || cols != gridCols {
			return errors.Errorf("intrinsic %d sees a %dx%d board, expected %dx%d",
				intrinsicID, rows, cols, gridRows, gridCols)
		}

		// pose per view from the homography, observations from the raw pixels
		var residuals []float64
		for _, viewID := range slices.Sorted(maps.Keys(homographies)) {
			pose, err := PoseFromHomography(params.K(), homographies[viewID])
			if err != nil {
				return errors.Wrapf(err, "cannot estimate the pose of view %d", viewID)
			}
			view := sc.Views[viewID]
			sc.Poses[view.PoseID] = pose
			board := boards[viewID]
			for i := 0; i < board.Rows(); i++ {
				for j := 0; j < board.Cols(); j++ {
					idx := board.At(i, j)
					if idx == chessboard.UndefinedCorner {
						continue
					}
					pt := detections[viewID].Corners[idx].Center
					lm := sc.Landmarks[i*gridCols+j]
					lm.Observations[viewID] = &scene.Observation{Point: pt, Scale: 1.0}

					// distortion-free residual of the closed-form solution
					cam := pose.Transform(lm.P)
					ideal := params.PixelFromCam(r2.Point{X: cam.X / cam.Z, Y: cam.Y / cam.Z})
					residuals = append(residuals, ideal.Sub(params.Undistort(pt)).Norm())
				}
			}
		}
		mean, _ := stats.Mean(residuals)
		median, _ := stats.Median(residuals)
		p95, _ := stats.Percentile(residuals, 95)
		logger.Infow("closed-form calibration",
			"intrinsic", intrinsicID,
			"views", len(homographies),
			"fx", params.Fx, "fy", params.Fy, "skew", params.Skew,
			"ppx", params.Ppx, "ppy", params.Ppy,
			"residualMeanPx", mean, "residualMedianPx", median, "residualP95Px", p95,
		)

		if err := sc.Validate(); err != nil {
			return err
		}
		opts := refine.RefineRotation | refine.RefineTranslation | refine.RefineIntrinsicsAll
		if err := adjuster.Adjust(sc, opts); err != nil {
			return errors.Wrapf(err, "refinement failed for intrinsic %d", intrinsicID)
		}
	}
	if gridRows == 0 {
		return errors.New("no intrinsic could be calibrated")
	}
	return nil
}
