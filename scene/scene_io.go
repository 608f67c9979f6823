package scene

import (
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/camera"
)

type distortionJSON struct {
	Type       camera.DistortionType `json:"type"`
	Parameters []float64             `json:"parameters"`
}

type intrinsicJSON struct {
	ID          int                 `json:"intrinsic_id"`
	Type        camera.ModelType    `json:"type"`
	Pinhole     *camera.Pinhole     `json:"pinhole,omitempty"`
	Equidistant *camera.Equidistant `json:"equidistant,omitempty"`
	Distortion  *distortionJSON     `json:"distortion,omitempty"`
}

type poseJSON struct {
	ID       int        `json:"pose_id"`
	Rotation [9]float64 `json:"rotation"`
	Center   [3]float64 `json:"center"`
}

type observationJSON struct {
	ViewID int        `json:"view_id"`
	Point  [2]float64 `json:"point"`
	Scale  float64    `json:"scale"`
}

type landmarkJSON struct {
	ID           int               `json:"landmark_id"`
	Point        [3]float64        `json:"point"`
	Descriptor   DescriptorType    `json:"descriptor"`
	Observations []observationJSON `json:"observations"`
}

type sceneJSON struct {
	Views      []*View         `json:"views"`
	Intrinsics []intrinsicJSON `json:"intrinsics"`
	Poses      []poseJSON      `json:"poses"`
	Landmarks  []landmarkJSON  `json:"landmarks"`
}

// Load reads a scene from a JSON file.
func Load(jsonPath string) (*Scene, error) {
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
	raw := &sceneJSON{}
	if err := json.Unmarshal(byteValue, raw); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}

	sc := NewScene()
	for _, view := range raw.Views {
		sc.Views[view.ID] = view
	}
	for _, in := range raw.Intrinsics {
		switch in.Type {
		case camera.PinholeModelType:
			if in.Pinhole == nil {
				return nil, errors.Errorf("intrinsic %d is missing its pinhole parameters", in.ID)
			}
			if in.Distortion != nil {
				dist, err := camera.NewDistorter(in.Distortion.Type, in.Distortion.Parameters)
				if err != nil {
					return nil, errors.Wrapf(err, "intrinsic %d", in.ID)
				}
				in.Pinhole.Distortion = dist
			}
			sc.Intrinsics[in.ID] = in.Pinhole
		case camera.EquidistantModelType:
			if in.Equidistant == nil {
				return nil, errors.Errorf("intrinsic %d is missing its equidistant parameters", in.ID)
			}
			sc.Intrinsics[in.ID] = in.Equidistant
		default:
			return nil, errors.Errorf("do not know how to parse %q camera model", in.Type)
		}
	}
	for _, p := range raw.Poses {
		rotation := mat.NewDense(3, 3, p.Rotation[:])
		sc.Poses[p.ID] = NewPose(rotation, r3.Vector{X: p.Center[0], Y: p.Center[1], Z: p.Center[2]})
	}
	for _, lm := range raw.Landmarks {
		landmark := NewLandmark(r3.Vector{X: lm.Point[0], Y: lm.Point[1], Z: lm.Point[2]}, lm.Descriptor)
		for _, obs := range lm.Observations {
			landmark.Observations[obs.ViewID] = &Observation{
				Point: r2.Point{X: obs.Point[0], Y: obs.Point[1]},
				Scale: obs.Scale,
			}
		}
		sc.Landmarks[lm.ID] = landmark
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Save writes a scene to a JSON file in a deterministic id order.
func Save(sc *Scene, jsonPath string) error {
	raw := &sceneJSON{}
	for _, id := range sc.ViewIDs() {
		raw.Views = append(raw.Views, sc.Views[id])
	}
	for _, id := range slices.Sorted(maps.Keys(sc.Intrinsics)) {
		entry := intrinsicJSON{ID: id}
		switch model := sc.Intrinsics[id].(type) {
		case *camera.Pinhole:
			entry.Type = camera.PinholeModelType
			entry.Pinhole = model
			if model.Distortion != nil {
				entry.Distortion = &distortionJSON{
					Type:       model.Distortion.ModelType(),
					Parameters: model.Distortion.Parameters(),
				}
			}
		case *camera.Equidistant:
			entry.Type = camera.EquidistantModelType
			entry.Equidistant = model
		default:
			return errors.Errorf("do not know how to serialize %q camera model", sc.Intrinsics[id].ModelType())
		}
		raw.Intrinsics = append(raw.Intrinsics, entry)
	}
	for _, id := range slices.Sorted(maps.Keys(sc.Poses)) {
		pose := sc.Poses[id]
		entry := poseJSON{ID: id, Center: [3]float64{pose.Center.X, pose.Center.Y, pose.Center.Z}}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				entry.Rotation[3*i+j] = pose.Rotation.At(i, j)
			}
		}
		raw.Poses = append(raw.Poses, entry)
	}
	for _, id := range slices.Sorted(maps.Keys(sc.Landmarks)) {
		lm := sc.Landmarks[id]
		entry := landmarkJSON{
			ID:         id,
			Point:      [3]float64{lm.P.X, lm.P.Y, lm.P.Z},
			Descriptor: lm.Descriptor,
		}
		for _, viewID := range slices.Sorted(maps.Keys(lm.Observations)) {
			obs := lm.Observations[viewID]
			entry.Observations = append(entry.Observations, observationJSON{
				ViewID: viewID,
				Point:  [2]float64{obs.Point.X, obs.Point.Y},
				Scale:  obs.Scale,
			})
		}
		raw.Landmarks = append(raw.Landmarks, entry)
	}
	byteValue, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(jsonPath, byteValue, 0o644)
}
