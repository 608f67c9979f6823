package chessboard

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestNewBoard(t *testing.T) {
	board, err := NewBoard([][]int{{0, 1, 2}, {3, UndefinedCorner, 5}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, board.Rows(), test.ShouldEqual, 2)
	test.That(t, board.Cols(), test.ShouldEqual, 3)
	test.That(t, board.At(1, 1), test.ShouldEqual, UndefinedCorner)
	test.That(t, board.CornerCount(), test.ShouldEqual, 5)

	_, err = NewBoard(nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewBoard([][]int{{0, 1}, {2}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMinDistTo(t *testing.T) {
	corners := []Corner{
		NewCorner(0, 0),
		NewCorner(10, 0),
		NewCorner(3, 4),
	}
	board, err := NewBoard([][]int{{0, 1}, {UndefinedCorner, 2}})
	test.That(t, err, test.ShouldBeNil)
	dist := board.MinDistTo(corners, r2.Point{X: 0, Y: 0})
	test.That(t, dist, test.ShouldAlmostEqual, 0.)
	dist = board.MinDistTo(corners, r2.Point{X: 4, Y: 4})
	test.That(t, dist, test.ShouldAlmostEqual, 1.)

	empty, err := NewBoard([][]int{{UndefinedCorner}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsInf(empty.MinDistTo(corners, r2.Point{}), 1), test.ShouldBeTrue)
}

func TestCheckValid(t *testing.T) {
	board, err := NewBoard([][]int{{0, 7}})
	test.That(t, err, test.ShouldBeNil)
	dets := &Detections{Corners: []Corner{NewCorner(1, 2)}, Boards: []Board{board}}
	test.That(t, dets.CheckValid(), test.ShouldNotBeNil)

	board, err = NewBoard([][]int{{0, UndefinedCorner}})
	test.That(t, err, test.ShouldBeNil)
	dets = &Detections{Corners: []Corner{NewCorner(1, 2)}, Boards: []Board{board}}
	test.That(t, dets.CheckValid(), test.ShouldBeNil)
}

func TestDetectionsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	board, err := NewBoard([][]int{{0, 1}, {2, UndefinedCorner}})
	test.That(t, err, test.ShouldBeNil)
	dets := &Detections{
		Corners: []Corner{
			{Center: r2.Point{X: 12.5, Y: 40.25}, Dir: r2.Point{X: 1, Y: 0}, Scale: 1.},
			{Center: r2.Point{X: 100., Y: 41.}, Scale: 2.},
			{Center: r2.Point{X: 13., Y: 90.}, Scale: 1.},
		},
		Boards: []Board{board},
	}
	path := filepath.Join(dir, DetectionsFileName(12))
	test.That(t, SaveDetections(dets, path), test.ShouldBeNil)

	loaded, err := LoadDetections(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldResemble, dets)
}

func TestLoadDetectionsForViews(t *testing.T) {
	dir := t.TempDir()
	board, err := NewBoard([][]int{{0}})
	test.That(t, err, test.ShouldBeNil)
	dets := &Detections{Corners: []Corner{NewCorner(5, 5)}, Boards: []Board{board}}
	test.That(t, SaveDetections(dets, filepath.Join(dir, DetectionsFileName(3))), test.ShouldBeNil)

	all, err := LoadDetectionsForViews(dir, []int{3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(all), test.ShouldEqual, 1)
	test.That(t, all[3], test.ShouldResemble, dets)

	// malformed files are an error, not a skip
	bad := filepath.Join(dir, DetectionsFileName(4))
	test.That(t, os.WriteFile(bad, []byte("{"), 0o644), test.ShouldBeNil)
	_, err = LoadDetectionsForViews(dir, []int{3, 4})
	test.That(t, err, test.ShouldNotBeNil)
}
