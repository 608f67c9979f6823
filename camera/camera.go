// Package camera implements the intrinsic camera models used by the
// calibration and pose estimation pipeline.
package camera

import "github.com/pkg/errors"

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// ErrNotPinhole is when an operation requires a pinhole projection but the
// camera model is of another type.
var ErrNotPinhole = errors.New("camera model is not a pinhole")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Model is an intrinsic camera model, describing how points in the camera
// frame project to pixels.
type Model interface {
	ModelType() ModelType
	ImageSize() (int, int)
	CheckValid() error
	// AsPinhole reports whether the model is a pinhole projection and, if so,
	// returns it.
	AsPinhole() (*Pinhole, bool)
}

// ModelType is the name of the camera projection model.
type ModelType string

const (
	// PinholeModelType is a perspective projection with an optional lens
	// distortion model.
	PinholeModelType = ModelType("pinhole")
	// EquidistantModelType is an f-theta fisheye projection.
	EquidistantModelType = ModelType("equidistant")
)

// AsPinhole returns the pinhole camera behind a model, or ErrNotPinhole when
// the model uses another projection.
func AsPinhole(m Model) (*Pinhole, error) {
	if m == nil {
		return nil, NewNoIntrinsicsError("intrinsics do not exist")
	}
	pinhole, ok := m.AsPinhole()
	if !ok {
		return nil, errors.Wrapf(ErrNotPinhole, "got %q", m.ModelType())
	}
	return pinhole, nil
}
