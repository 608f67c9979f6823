package calibration

import (
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/chessboard"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/refine"
	"go.viam.com/sfm/scene"
)

// NestedOptions configures the single-image nested-board calibration mode.
type NestedOptions struct {
	// BaseSquareSize is the synthetic square size of the innermost board,
	// DefaultBaseSquareSize when zero.
	BaseSquareSize float64
	// SimplePinhole constrains the result to square pixels, a centered
	// principal point, and no distortion.
	SimplePinhole bool
}

// CalibrateNestedBoards bootstraps intrinsics and a pose from a single image
// of a hierarchical target of nested checkerboards. Boards are ordered from
// the image center outward, each is resected independently with the robust
// perspective-three-point estimator under a synthetic view, and refinement
// runs over all boards at once. Afterwards the synthetic views collapse back
// onto the real view, which keeps the pose of the innermost board.
//
// The detections must hold exactly one entry and its view must use a pinhole
// intrinsic. A board that cannot be resected with at least 10 inliers aborts
// the run, a single wide-angle image leaves no fallback.
func CalibrateNestedBoards(
	sc *scene.Scene,
	detections map[int]*chessboard.Detections,
	opts NestedOptions,
	adjuster refine.Adjuster,
	rng *rand.Rand,
	logger golog.Logger,
) error {
	if len(detections) != 1 {
		return errors.Errorf("nested calibration needs exactly one detection set, got %d", len(detections))
	}
	var viewID int
	var det *chessboard.Detections
	for id, d := range detections {
		viewID, det = id, d
	}
	view, ok := sc.Views[viewID]
	if !ok {
		return errors.Errorf("detections reference missing view %d", viewID)
	}
	params, err := camera.AsPinhole(sc.Intrinsics[view.IntrinsicID])
	if err != nil {
		return errors.Wrapf(err, "cannot calibrate view %d", viewID)
	}
	origView := *view
	sc.ClearReconstruction()

	selected := SelectNestedBoards(det, view.Width, view.Height, opts.BaseSquareSize)
	if len(selected) == 0 {
		return errors.New("no nested board has enough corners to calibrate")
	}

	firstBoardLandmarks := 0
	landmarkID := 0
	for accepted, nb := range selected {
		board := det.Boards[nb.Index]
		rows, cols := board.Rows(), board.Cols()

		// board-plane points centered on the board, plus fitting and
		// observation pixels
		n := board.CornerCount()
		pts3 := make([]r3.Vector, 0, n)
		fitPts := make([]r2.Point, 0, n)
		obsPts := make([]r2.Point, 0, n)
		weights := make([]float64, 0, n)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				idx := board.At(i, j)
				if idx == chessboard.UndefinedCorner {
					continue
				}
				pt := det.Corners[idx].Center
				ud := params.Undistort(pt)
				pts3 = append(pts3, r3.Vector{
					X: float64(j-cols/2) * nb.SquareSize,
					Y: float64(i-rows/2) * nb.SquareSize,
					Z: 0,
				})
				fitPts = append(fitPts, ud)
				if opts.SimplePinhole {
					obsPts = append(obsPts, ud)
				} else {
					obsPts = append(obsPts, pt)
				}
				// corners near the optical axis weigh more
				cam := params.CamFromPixel(ud)
				weights = append(weights, 1/math.Max(0.4, math.Max(math.Abs(cam.X), math.Abs(cam.Y))))
			}
		}

		rot, center, inliers, err := multiview.EstimatePose(
			pts3, fitPts, params.K(), view.Width, view.Height, rng, logger)
		if err != nil {
			return errors.Wrapf(err, "cannot resect board %d", nb.Index)
		}
		if len(inliers) < minFitInliers {
			return errors.Errorf("board %d resection has only %d inliers", nb.Index, len(inliers))
		}
		logger.Debugf("board %d resected with %d/%d inliers at square size %f",
			nb.Index, len(inliers), len(pts3), nb.SquareSize)

		// each accepted board gets a synthetic view sharing the real image
		// geometry, keyed by acceptance order
		sc.Views[accepted] = &scene.View{
			ID:          accepted,
			IntrinsicID: view.IntrinsicID,
			PoseID:      accepted,
			Width:       view.Width,
			Height:      view.Height,
		}
		sc.Poses[accepted] = scene.NewPose(rot, center)
		for k := range pts3 {
			lm := scene.NewLandmark(pts3[k], scene.DescriptorSIFT)
			lm.Observations[accepted] = &scene.Observation{Point: obsPts[k], Scale: weights[k]}
			sc.Landmarks[landmarkID] = lm
			landmarkID++
		}
		if accepted == 0 {
			firstBoardLandmarks = landmarkID
		}
	}

	if opts.SimplePinhole {
		params.SetOffset(0, 0)
		params.Distortion = nil
	}

	refineOpts := refine.RefineRotation | refine.RefineTranslation | refine.RefineDistortion
	if err := adjuster.Adjust(sc, refineOpts); err != nil {
		return errors.Wrap(err, "refinement failed")
	}
	if opts.SimplePinhole {
		// move the observations onto square pixels and refine again
		EqualizeAspect(sc, params)
		if err := adjuster.Adjust(sc, refineOpts); err != nil {
			return errors.Wrap(err, "refinement failed after aspect equalization")
		}
	}

	// collapse the synthetic views back onto the real one, keeping the
	// innermost board
	finalPose := sc.Poses[0]
	for i := range selected {
		delete(sc.Views, i)
		delete(sc.Poses, i)
	}
	sc.Views[origView.ID] = &origView
	sc.Poses[origView.PoseID] = finalPose
	for id, lm := range sc.Landmarks {
		if id >= firstBoardLandmarks {
			delete(sc.Landmarks, id)
			continue
		}
		obs := lm.Observations[0]
		lm.Observations = map[int]*scene.Observation{origView.ID: obs}
	}
	return sc.Validate()
}

// EqualizeAspect rescales every observation ordinate from the vertical to
// the horizontal focal scale and locks the two together. Applying it to an
// already equalized scene changes nothing.
func EqualizeAspect(sc *scene.Scene, params *camera.Pinhole) {
	fx, fy, ppy := params.Fx, params.Fy, params.Ppy
	for _, lm := range sc.Landmarks {
		for _, obs := range lm.Observations {
			obs.Point.Y = (obs.Point.Y-ppy)/fy*fx + ppy
		}
	}
	params.Fy = params.Fx
}
