package calibration

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/sfm/chessboard"
)

// addGridBoard appends a full rows x cols corner grid centered at (cx, cy)
// with the given pixel spacing and registers it as a board.
func addGridBoard(t *testing.T, det *chessboard.Detections, rows, cols int, cx, cy, spacing float64) int {
	t.Helper()
	base := len(det.Corners)
	cells := make([][]int, rows)
	for i := range cells {
		cells[i] = make([]int, cols)
		for j := range cells[i] {
			x := cx + spacing*(float64(j)-float64(cols-1)/2)
			y := cy + spacing*(float64(i)-float64(rows-1)/2)
			det.Corners = append(det.Corners, chessboard.NewCorner(x, y))
			cells[i][j] = base + i*cols + j
		}
	}
	board, err := chessboard.NewBoard(cells)
	test.That(t, err, test.ShouldBeNil)
	det.Boards = append(det.Boards, board)
	return len(det.Boards) - 1
}

func TestSelectNestedBoards(t *testing.T) {
	det := &chessboard.Detections{}
	// registration order deliberately differs from the center-outward order
	outer := addGridBoard(t, det, 8, 8, 320., 240., 60.)
	inner := addGridBoard(t, det, 6, 6, 320., 240., 20.)
	third := addGridBoard(t, det, 8, 8, 320., 240., 110.)
	test.That(t, det.CheckValid(), test.ShouldBeNil)

	selected := SelectNestedBoards(det, 640, 480, 0.25)
	test.That(t, len(selected), test.ShouldEqual, 3)
	test.That(t, selected[0].Index, test.ShouldEqual, inner)
	test.That(t, selected[1].Index, test.ShouldEqual, outer)
	test.That(t, selected[2].Index, test.ShouldEqual, third)

	// the two innermost boards share the base size, then it doubles
	test.That(t, selected[0].SquareSize, test.ShouldEqual, 0.25)
	test.That(t, selected[1].SquareSize, test.ShouldEqual, 0.25)
	test.That(t, selected[2].SquareSize, test.ShouldEqual, 0.5)
}

func TestSelectNestedBoardsSizeSequence(t *testing.T) {
	det := &chessboard.Detections{}
	spacings := []float64{15., 40., 75., 120.}
	for _, spacing := range spacings {
		addGridBoard(t, det, 6, 6, 320., 240., spacing)
	}

	selected := SelectNestedBoards(det, 640, 480, 1.)
	test.That(t, len(selected), test.ShouldEqual, 4)
	sizes := make([]float64, len(selected))
	for i, nb := range selected {
		sizes[i] = nb.SquareSize
	}
	test.That(t, sizes, test.ShouldResemble, []float64{1., 1., 2., 4.})
}

func TestSelectNestedBoardsDropsSparseBoards(t *testing.T) {
	det := &chessboard.Detections{}
	kept := addGridBoard(t, det, 6, 6, 320., 240., 50.)
	// 16 corners is under the 30 corner minimum
	addGridBoard(t, det, 4, 4, 320., 240., 10.)

	selected := SelectNestedBoards(det, 640, 480, 0.25)
	test.That(t, len(selected), test.ShouldEqual, 1)
	test.That(t, selected[0].Index, test.ShouldEqual, kept)
	test.That(t, selected[0].SquareSize, test.ShouldEqual, 0.25)
}

func TestSelectNestedBoardsDefaultSize(t *testing.T) {
	det := &chessboard.Detections{}
	addGridBoard(t, det, 6, 6, 320., 240., 20.)

	selected := SelectNestedBoards(det, 640, 480, 0)
	test.That(t, len(selected), test.ShouldEqual, 1)
	test.That(t, selected[0].SquareSize, test.ShouldEqual, DefaultBaseSquareSize)
}

func TestSelectNestedBoardsEmpty(t *testing.T) {
	selected := SelectNestedBoards(&chessboard.Detections{}, 640, 480, 0.25)
	test.That(t, selected, test.ShouldBeEmpty)
}
