package calibration

import (
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/chessboard"
	"go.viam.com/sfm/refine"
	"go.viam.com/sfm/scene"
)

// nestedTargetDetections renders a hierarchical target through the truth
// camera: a 6x6 inner board and a concentric 8x8 outer board with twice the
// square size and an undefined hole where the inner board sits. The outer
// board comes first so selection has to reorder.
func nestedTargetDetections(t *testing.T, truth *camera.Pinhole, pose *scene.Pose) *chessboard.Detections {
	t.Helper()
	det := &chessboard.Detections{}
	addBoard := func(rows, cols int, squareSize float64, hole func(i, j int) bool) {
		cells := make([][]int, rows)
		idx := len(det.Corners)
		for i := range cells {
			cells[i] = make([]int, cols)
			for j := range cells[i] {
				if hole != nil && hole(i, j) {
					cells[i][j] = chessboard.UndefinedCorner
					continue
				}
				pt := r3.Vector{
					X: float64(j-cols/2) * squareSize,
					Y: float64(i-rows/2) * squareSize,
				}
				px := truth.Project(pose.Transform(pt))
				det.Corners = append(det.Corners, chessboard.NewCorner(px.X, px.Y))
				cells[i][j] = idx
				idx++
			}
		}
		board, err := chessboard.NewBoard(cells)
		test.That(t, err, test.ShouldBeNil)
		det.Boards = append(det.Boards, board)
	}
	addBoard(8, 8, 0.5, func(i, j int) bool { return i >= 2 && i <= 5 && j >= 2 && j <= 5 })
	addBoard(6, 6, 0.25, nil)
	return det
}

func nestedFixture(t *testing.T, viewID, poseID int) (*scene.Scene, map[int]*chessboard.Detections, *scene.Pose) {
	t.Helper()
	sc := scene.NewScene()
	params := &camera.Pinhole{Width: 640, Height: 480, Fx: 620., Fy: 620., Ppx: 320., Ppy: 240.}
	sc.Intrinsics[2] = params
	sc.Views[viewID] = &scene.View{ID: viewID, IntrinsicID: 2, PoseID: poseID, Width: 640, Height: 480}
	truthPose := scene.NewPose(
		scene.RotationFromAngleAxis(r3.Vector{X: 0.05, Y: -0.04, Z: 0.03}),
		r3.Vector{X: 0.05, Y: -0.04, Z: -2.6},
	)
	detections := map[int]*chessboard.Detections{
		viewID: nestedTargetDetections(t, params, truthPose),
	}
	return sc, detections, truthPose
}

func TestCalibrateNestedBoards(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, truthPose := nestedFixture(t, 3, 5)
	adjuster := &stubAdjuster{}

	err := CalibrateNestedBoards(sc, detections, NestedOptions{}, adjuster, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, adjuster.calls, test.ShouldResemble,
		[]refine.Options{refine.RefineRotation | refine.RefineTranslation | refine.RefineDistortion})

	// the synthetic board views collapse back onto the real view
	test.That(t, len(sc.Views), test.ShouldEqual, 1)
	view, ok := sc.Views[3]
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, view.PoseID, test.ShouldEqual, 5)
	test.That(t, view.Width, test.ShouldEqual, 640)

	// the kept pose is the innermost board's
	test.That(t, len(sc.Poses), test.ShouldEqual, 1)
	pose, ok := sc.Poses[5]
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pose.Center.X, test.ShouldAlmostEqual, truthPose.Center.X, 1e-6)
	test.That(t, pose.Center.Y, test.ShouldAlmostEqual, truthPose.Center.Y, 1e-6)
	test.That(t, pose.Center.Z, test.ShouldAlmostEqual, truthPose.Center.Z, 1e-6)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, pose.Rotation.At(i, j), test.ShouldAlmostEqual, truthPose.Rotation.At(i, j), 1e-6)
		}
	}

	// only the innermost board's landmarks survive, one observation each
	test.That(t, len(sc.Landmarks), test.ShouldEqual, 36)
	inner := detections[3].Boards[1]
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			lm, ok := sc.Landmarks[i*6+j]
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, lm.P.X, test.ShouldAlmostEqual, float64(j-3)*0.25)
			test.That(t, lm.P.Y, test.ShouldAlmostEqual, float64(i-3)*0.25)
			test.That(t, len(lm.Observations), test.ShouldEqual, 1)
			obs, ok := lm.Observations[3]
			test.That(t, ok, test.ShouldBeTrue)
			corner := detections[3].Corners[inner.At(i, j)]
			test.That(t, obs.Point.X, test.ShouldEqual, corner.Center.X)
			test.That(t, obs.Point.Y, test.ShouldEqual, corner.Center.Y)
			// the whole inner board sits close to the optical axis
			test.That(t, obs.Scale, test.ShouldEqual, 2.5)
		}
	}
	test.That(t, sc.Validate(), test.ShouldBeNil)
}

func TestCalibrateNestedBoardsSimplePinhole(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, truthPose := nestedFixture(t, 3, 5)
	adjuster := &stubAdjuster{}

	opts := NestedOptions{SimplePinhole: true}
	err := CalibrateNestedBoards(sc, detections, opts, adjuster, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldBeNil)

	// aspect equalization forces a second refinement pass
	test.That(t, len(adjuster.calls), test.ShouldEqual, 2)

	params, err := camera.AsPinhole(sc.Intrinsics[2])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Ppx, test.ShouldEqual, 320.)
	test.That(t, params.Ppy, test.ShouldEqual, 240.)
	test.That(t, params.Fy, test.ShouldEqual, params.Fx)
	test.That(t, params.Distortion, test.ShouldBeNil)

	pose := sc.Poses[5]
	test.That(t, pose, test.ShouldNotBeNil)
	test.That(t, pose.Center.Z, test.ShouldAlmostEqual, truthPose.Center.Z, 1e-6)
}

func TestCalibrateNestedBoardsCollidingViewID(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, truthPose := nestedFixture(t, 0, 0)

	err := CalibrateNestedBoards(sc, detections, NestedOptions{}, &stubAdjuster{}, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldBeNil)

	// the real view shares its id with a synthetic board view and must be
	// restored intact
	test.That(t, len(sc.Views), test.ShouldEqual, 1)
	view, ok := sc.Views[0]
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, view.IntrinsicID, test.ShouldEqual, 2)
	test.That(t, view.Width, test.ShouldEqual, 640)
	test.That(t, len(sc.Poses), test.ShouldEqual, 1)
	test.That(t, sc.Poses[0].Center.Z, test.ShouldAlmostEqual, truthPose.Center.Z, 1e-6)
	test.That(t, sc.Validate(), test.ShouldBeNil)
}

func TestCalibrateNestedBoardsDetectionCount(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, _ := nestedFixture(t, 3, 5)

	err := CalibrateNestedBoards(sc, map[int]*chessboard.Detections{}, NestedOptions{},
		&stubAdjuster{}, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exactly one detection set")

	detections[8] = detections[3]
	err = CalibrateNestedBoards(sc, detections, NestedOptions{}, &stubAdjuster{}, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "got 2")
}

func TestCalibrateNestedBoardsMissingView(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, _ := nestedFixture(t, 3, 5)
	detections[9] = detections[3]
	delete(detections, 3)

	err := CalibrateNestedBoards(sc, detections, NestedOptions{}, &stubAdjuster{}, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing view 9")
}

func TestCalibrateNestedBoardsNoUsableBoards(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, _, _ := nestedFixture(t, 3, 5)
	det := &chessboard.Detections{}
	addGridBoard(t, det, 4, 4, 320., 240., 20.)

	err := CalibrateNestedBoards(sc, map[int]*chessboard.Detections{3: det}, NestedOptions{},
		&stubAdjuster{}, rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "enough corners")
}

func TestCalibrateNestedBoardsAdjusterFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	sc, detections, _ := nestedFixture(t, 3, 5)

	err := CalibrateNestedBoards(sc, detections, NestedOptions{}, &stubAdjuster{fail: true},
		rand.New(rand.NewSource(2)), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "refinement failed")
}

func TestEqualizeAspectIdempotent(t *testing.T) {
	sc := scene.NewScene()
	params := &camera.Pinhole{Width: 640, Height: 480, Fx: 800., Fy: 760., Ppx: 320., Ppy: 240.}
	sc.Intrinsics[0] = params
	sc.Views[0] = &scene.View{ID: 0, IntrinsicID: 0, PoseID: 0, Width: 640, Height: 480}
	lm := scene.NewLandmark(r3.Vector{}, scene.DescriptorSIFT)
	lm.Observations[0] = &scene.Observation{Point: r2.Point{X: 412., Y: 300.}, Scale: 1.}
	sc.Landmarks[0] = lm

	EqualizeAspect(sc, params)
	test.That(t, params.Fy, test.ShouldEqual, 800.)
	want := (300.-240.)/760.*800. + 240.
	test.That(t, lm.Observations[0].Point.Y, test.ShouldAlmostEqual, want)
	test.That(t, lm.Observations[0].Point.X, test.ShouldEqual, 412.)

	EqualizeAspect(sc, params)
	test.That(t, lm.Observations[0].Point.Y, test.ShouldAlmostEqual, want)
}
