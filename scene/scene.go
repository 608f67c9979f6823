// Package scene is the container the calibration pipeline reads and writes:
// views, intrinsic camera models, camera poses, and reconstructed landmarks
// with their image observations.
package scene

import (
	"maps"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/camera"
)

// View is one captured image: which intrinsic took it, which pose it was
// taken from, and the image geometry.
type View struct {
	ID          int `json:"view_id"`
	IntrinsicID int `json:"intrinsic_id"`
	PoseID      int `json:"pose_id"`
	Width       int `json:"width_px"`
	Height      int `json:"height_px"`
}

// Pose is a camera pose: the rotation taking world coordinates into the
// camera frame, and the camera center in world coordinates.
type Pose struct {
	Rotation *mat.Dense
	Center   r3.Vector
}

// NewPose creates a pose from a world-to-camera rotation and a camera center.
func NewPose(rotation *mat.Dense, center r3.Vector) *Pose {
	return &Pose{Rotation: mat.DenseCopyOf(rotation), Center: center}
}

// NewPoseFromRt creates a pose from a world-to-camera rotation and
// translation, converting the translation into a camera center.
func NewPoseFromRt(rotation *mat.Dense, translation r3.Vector) *Pose {
	// C = -Rᵀt
	center := r3.Vector{
		X: -(rotation.At(0, 0)*translation.X + rotation.At(1, 0)*translation.Y + rotation.At(2, 0)*translation.Z),
		Y: -(rotation.At(0, 1)*translation.X + rotation.At(1, 1)*translation.Y + rotation.At(2, 1)*translation.Z),
		Z: -(rotation.At(0, 2)*translation.X + rotation.At(1, 2)*translation.Y + rotation.At(2, 2)*translation.Z),
	}
	return &Pose{Rotation: mat.DenseCopyOf(rotation), Center: center}
}

// Translation returns the world-to-camera translation t = -R*C.
func (p *Pose) Translation() r3.Vector {
	c := p.Center
	return r3.Vector{
		X: -(p.Rotation.At(0, 0)*c.X + p.Rotation.At(0, 1)*c.Y + p.Rotation.At(0, 2)*c.Z),
		Y: -(p.Rotation.At(1, 0)*c.X + p.Rotation.At(1, 1)*c.Y + p.Rotation.At(1, 2)*c.Z),
		Z: -(p.Rotation.At(2, 0)*c.X + p.Rotation.At(2, 1)*c.Y + p.Rotation.At(2, 2)*c.Z),
	}
}

// Transform maps a world point into the camera frame.
func (p *Pose) Transform(pt r3.Vector) r3.Vector {
	d := pt.Sub(p.Center)
	return r3.Vector{
		X: p.Rotation.At(0, 0)*d.X + p.Rotation.At(0, 1)*d.Y + p.Rotation.At(0, 2)*d.Z,
		Y: p.Rotation.At(1, 0)*d.X + p.Rotation.At(1, 1)*d.Y + p.Rotation.At(1, 2)*d.Z,
		Z: p.Rotation.At(2, 0)*d.X + p.Rotation.At(2, 1)*d.Y + p.Rotation.At(2, 2)*d.Z,
	}
}

// Clone returns a deep copy of the pose.
func (p *Pose) Clone() *Pose {
	return &Pose{Rotation: mat.DenseCopyOf(p.Rotation), Center: p.Center}
}

// Observation is where a landmark was seen in one view, with the feature
// scale the fit should weight it by.
type Observation struct {
	Point r2.Point
	Scale float64
}

// DescriptorType tags which feature pipeline a landmark belongs to.
type DescriptorType string

// DescriptorSIFT is the descriptor tag used for calibration-target corners.
const DescriptorSIFT = DescriptorType("sift")

// Landmark is a reconstructed 3D point and its observations keyed by view id.
type Landmark struct {
	P            r3.Vector
	Descriptor   DescriptorType
	Observations map[int]*Observation
}

// NewLandmark creates a landmark at a world point with no observations yet.
func NewLandmark(pt r3.Vector, desc DescriptorType) *Landmark {
	return &Landmark{P: pt, Descriptor: desc, Observations: make(map[int]*Observation)}
}

// Scene is the full container: views, intrinsics, poses, and landmarks, all
// keyed by id.
type Scene struct {
	Views      map[int]*View
	Intrinsics map[int]camera.Model
	Poses      map[int]*Pose
	Landmarks  map[int]*Landmark
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{
		Views:      make(map[int]*View),
		Intrinsics: make(map[int]camera.Model),
		Poses:      make(map[int]*Pose),
		Landmarks:  make(map[int]*Landmark),
	}
}

// ClearReconstruction drops all poses and landmarks, keeping views and
// intrinsics. Calibration runs start from a clean reconstruction.
func (sc *Scene) ClearReconstruction() {
	sc.Poses = make(map[int]*Pose)
	sc.Landmarks = make(map[int]*Landmark)
}

// ViewIDs returns the scene's view ids in ascending order.
func (sc *Scene) ViewIDs() []int {
	return slices.Sorted(maps.Keys(sc.Views))
}

// Validate checks the referential invariants: every view's intrinsic exists,
// every view's pose (when set) exists, and every observation references an
// existing view.
func (sc *Scene) Validate() error {
	for id, view := range sc.Views {
		if id != view.ID {
			return errors.Errorf("view %d stored under key %d", view.ID, id)
		}
		if _, ok := sc.Intrinsics[view.IntrinsicID]; !ok {
			return errors.Errorf("view %d references missing intrinsic %d", id, view.IntrinsicID)
		}
	}
	for id, lm := range sc.Landmarks {
		for viewID := range lm.Observations {
			if _, ok := sc.Views[viewID]; !ok {
				return errors.Errorf("landmark %d observed by missing view %d", id, viewID)
			}
		}
	}
	return nil
}

// ReprojectionResiduals returns the pixel reprojection error of every
// observation whose view has both a pose and a pinhole intrinsic. The
// residuals come back in a deterministic landmark/view order.
func (sc *Scene) ReprojectionResiduals() []float64 {
	var residuals []float64
	for _, lmID := range slices.Sorted(maps.Keys(sc.Landmarks)) {
		lm := sc.Landmarks[lmID]
		for _, viewID := range slices.Sorted(maps.Keys(lm.Observations)) {
			view, ok := sc.Views[viewID]
			if !ok {
				continue
			}
			pose, ok := sc.Poses[view.PoseID]
			if !ok {
				continue
			}
			model, ok := sc.Intrinsics[view.IntrinsicID]
			if !ok {
				continue
			}
			params, ok := model.AsPinhole()
			if !ok {
				continue
			}
			projected := params.Project(pose.Transform(lm.P))
			residuals = append(residuals, projected.Sub(lm.Observations[viewID].Point).Norm())
		}
	}
	return residuals
}
