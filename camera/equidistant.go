package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Equidistant is an f-theta fisheye projection: the distance of a pixel from
// the principal point is proportional to the angle between the ray and the
// optical axis. It exists so scenes can carry wide-FOV intrinsics, but the
// calibration solvers only operate on pinhole models.
type Equidistant struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Focal  float64 `json:"focal"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// ModelType returns the name of the projection model.
func (params *Equidistant) ModelType() ModelType {
	return EquidistantModelType
}

// ImageSize returns the width and height of the sensor in pixels.
func (params *Equidistant) ImageSize() (int, int) {
	if params == nil {
		return 0, 0
	}
	return params.Width, params.Height
}

// AsPinhole implements the Model capability query. An equidistant projection
// is never a pinhole.
func (params *Equidistant) AsPinhole() (*Pinhole, bool) {
	return nil, false
}

// CheckValid checks if the fields for Equidistant have valid inputs.
func (params *Equidistant) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Focal <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length = %#v", params.Focal))
	}
	return nil
}

// Project maps a point in the camera frame to the pixel it lands on.
func (params *Equidistant) Project(pt r3.Vector) r2.Point {
	r := math.Hypot(pt.X, pt.Y)
	if r == 0. {
		return r2.Point{X: params.Ppx, Y: params.Ppy}
	}
	theta := math.Atan2(r, pt.Z)
	scale := params.Focal * theta / r
	return r2.Point{X: params.Ppx + scale*pt.X, Y: params.Ppy + scale*pt.Y}
}
