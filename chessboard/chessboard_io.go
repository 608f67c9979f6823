package chessboard

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// The serialized detector output is JSON of the form
//
//	{
//	  "corners": [{"center": [x, y], "dir": [dx, dy], "scale": s}, ...],
//	  "boards": [[[0, 1, -1], [2, 3, 4]], ...]
//	}
//
// with board cells holding corner indices and -1 for undefined cells.
type cornerJSON struct {
	Center [2]float64 `json:"center"`
	Dir    [2]float64 `json:"dir"`
	Scale  float64    `json:"scale"`
}

type detectionsJSON struct {
	Corners []cornerJSON `json:"corners"`
	Boards  [][][]int    `json:"boards"`
}

// LoadDetections reads one image's checkerboard detections from a JSON file.
func LoadDetections(jsonPath string) (*Detections, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	raw := &detectionsJSON{}
	if err := json.Unmarshal(byteValue, raw); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	dets := &Detections{}
	for _, c := range raw.Corners {
		dets.Corners = append(dets.Corners, Corner{
			Center: r2.Point{X: c.Center[0], Y: c.Center[1]},
			Dir:    r2.Point{X: c.Dir[0], Y: c.Dir[1]},
			Scale:  c.Scale,
		})
	}
	for i, cells := range raw.Boards {
		board, err := NewBoard(cells)
		if err != nil {
			return nil, errors.Wrapf(err, "board %d", i)
		}
		dets.Boards = append(dets.Boards, board)
	}
	if err := dets.CheckValid(); err != nil {
		return nil, err
	}
	return dets, nil
}

// SaveDetections writes one image's detections to a JSON file.
func SaveDetections(dets *Detections, jsonPath string) error {
	raw := &detectionsJSON{}
	for _, c := range dets.Corners {
		raw.Corners = append(raw.Corners, cornerJSON{
			Center: [2]float64{c.Center.X, c.Center.Y},
			Dir:    [2]float64{c.Dir.X, c.Dir.Y},
			Scale:  c.Scale,
		})
	}
	for _, b := range dets.Boards {
		raw.Boards = append(raw.Boards, b.cells)
	}
	byteValue, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(jsonPath, byteValue, 0o644)
}

// DetectionsFileName returns the conventional file name for a view's
// detections inside a detections directory.
func DetectionsFileName(viewID int) string {
	return fmt.Sprintf("checkers_%d.json", viewID)
}

// LoadDetectionsForViews reads the detections of each listed view from
// dir/checkers_<viewID>.json. Views without a detections file are left out
// of the result.
func LoadDetectionsForViews(dir string, viewIDs []int) (map[int]*Detections, error) {
	all := make(map[int]*Detections)
	for _, id := range viewIDs {
		path := filepath.Join(dir, DetectionsFileName(id))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		dets, err := LoadDetections(path)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", id)
		}
		all[id] = dets
	}
	return all, nil
}
