// Package chessboard holds the checkerboard corner detections that feed the
// calibration pipeline. Detection itself happens upstream; this package
// models the detector's serialized output and the grid bookkeeping the
// solvers need.
package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// UndefinedCorner marks a board cell with no usable detection.
const UndefinedCorner = -1

// Corner is one subpixel checkerboard corner produced by the detector.
type Corner struct {
	Center r2.Point
	Dir    r2.Point
	Scale  float64
}

// NewCorner creates a new corner at the given pixel with unit scale.
func NewCorner(x, y float64) Corner {
	return Corner{Center: r2.Point{X: x, Y: y}, Scale: 1.}
}

// Board is a rectangular grid of indices into a corner list. Cells without a
// detected corner hold UndefinedCorner.
type Board struct {
	cells [][]int
}

// NewBoard builds a board from a grid of corner indices. All rows must have
// the same length.
func NewBoard(cells [][]int) (Board, error) {
	if len(cells) == 0 {
		return Board{}, errors.New("board has no rows")
	}
	cols := len(cells[0])
	for i, row := range cells {
		if len(row) != cols {
			return Board{}, errors.Errorf("board row %d has %d cells, expected %d", i, len(row), cols)
		}
	}
	return Board{cells: cells}, nil
}

// Rows returns the number of grid rows.
func (b Board) Rows() int {
	return len(b.cells)
}

// Cols returns the number of grid columns.
func (b Board) Cols() int {
	if len(b.cells) == 0 {
		return 0
	}
	return len(b.cells[0])
}

// At returns the corner index stored at grid cell (i, j).
func (b Board) At(i, j int) int {
	return b.cells[i][j]
}

// CornerCount returns the number of cells with a defined corner.
func (b Board) CornerCount() int {
	count := 0
	for _, row := range b.cells {
		for _, c := range row {
			if c != UndefinedCorner {
				count++
			}
		}
	}
	return count
}

// MinDistTo returns the distance from pt to the closest defined corner of the
// board, or +Inf when the board has none.
func (b Board) MinDistTo(corners []Corner, pt r2.Point) float64 {
	minDist := math.Inf(1)
	for _, row := range b.cells {
		for _, c := range row {
			if c == UndefinedCorner {
				continue
			}
			if dist := corners[c].Center.Sub(pt).Norm(); dist < minDist {
				minDist = dist
			}
		}
	}
	return minDist
}

// Detections holds everything the detector found in one image: the corner
// list and the boards indexing into it.
type Detections struct {
	Corners []Corner
	Boards  []Board
}

// CheckValid verifies every board cell references a corner that exists.
func (d *Detections) CheckValid() error {
	if d == nil {
		return errors.New("detections do not exist")
	}
	for bi, board := range d.Boards {
		for i := 0; i < board.Rows(); i++ {
			for j := 0; j < board.Cols(); j++ {
				c := board.At(i, j)
				if c == UndefinedCorner {
					continue
				}
				if c < 0 || c >= len(d.Corners) {
					return errors.Errorf("board %d cell (%d,%d) references corner %d of %d",
						bi, i, j, c, len(d.Corners))
				}
			}
		}
	}
	return nil
}
