package calibration

import (
	"sort"

	"github.com/golang/geo/r2"

	"go.viam.com/sfm/chessboard"
)

// DefaultBaseSquareSize is the synthetic square size assigned to the
// innermost nested board when the caller does not set one. Nested targets
// have no physical scale reference, so the unit is arbitrary.
const DefaultBaseSquareSize = 0.25

// minBoardCorners is the minimum number of defined corners a nested board
// needs to participate in calibration.
const minBoardCorners = 30

// minFitInliers is the minimum consensus size for a homography or resection
// fit to count as a usable view or board.
const minFitInliers = 10

// NestedBoard pairs the index of a detected board with the synthetic square
// size it calibrates at.
type NestedBoard struct {
	Index      int
	SquareSize float64
}

// SelectNestedBoards orders the detected boards of a nested calibration
// target from the image center outward and assigns synthetic square sizes:
// the two innermost boards share the base size, every following board
// doubles it. Boards with fewer than 30 defined corners are dropped.
func SelectNestedBoards(det *chessboard.Detections, width, height int, baseSize float64) []NestedBoard {
	if baseSize <= 0 {
		baseSize = DefaultBaseSquareSize
	}
	center := r2.Point{X: float64(width) / 2, Y: float64(height) / 2}
	order := make([]int, len(det.Boards))
	dists := make([]float64, len(det.Boards))
	for i := range det.Boards {
		order[i] = i
		dists[i] = det.Boards[i].MinDistTo(det.Corners, center)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dists[order[i]] < dists[order[j]]
	})

	selected := make([]NestedBoard, 0, len(order))
	size := baseSize
	for _, idx := range order {
		if det.Boards[idx].CornerCount() < minBoardCorners {
			continue
		}
		selected = append(selected, NestedBoard{Index: idx, SquareSize: size})
		if len(selected) >= 2 {
			size *= 2
		}
	}
	return selected
}
