package camera

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pinhole holds the parameters necessary to do a perspective projection of a
// 3D scene to the 2D image plane, plus an optional lens distortion model.
// The camera matrix includes a skew term so the model can hold the raw output
// of a closed-form calibration before refinement straightens it out.
type Pinhole struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Skew   float64 `json:"skew"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	// RatioLocked ties Fy to Fx during refinement so pixels stay square.
	RatioLocked bool      `json:"ratio_locked,omitempty"`
	Distortion  Distorter `json:"-"`
}

// NewPinhole returns a pinhole camera with the given focal length and the
// principal point at the image center.
func NewPinhole(width, height int, focal float64) *Pinhole {
	return &Pinhole{
		Width:  width,
		Height: height,
		Fx:     focal,
		Fy:     focal,
		Ppx:    float64(width) / 2.,
		Ppy:    float64(height) / 2.,
	}
}

// ModelType returns the name of the projection model.
func (params *Pinhole) ModelType() ModelType {
	return PinholeModelType
}

// ImageSize returns the width and height of the sensor in pixels.
func (params *Pinhole) ImageSize() (int, int) {
	if params == nil {
		return 0, 0
	}
	return params.Width, params.Height
}

// AsPinhole implements the Model capability query.
func (params *Pinhole) AsPinhole() (*Pinhole, bool) {
	return params, params != nil
}

// CheckValid checks if the fields for Pinhole have valid inputs.
func (params *Pinhole) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Distortion != nil {
		if err := params.Distortion.CheckValid(); err != nil {
			return err
		}
	}
	return nil
}

// K creates the camera matrix and returns it.
// Camera matrix:
// [[fx s ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *Pinhole) K() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// SetK sets the intrinsic parameters from a 3x3 camera matrix. Setting the
// same matrix twice leaves the model unchanged.
func (params *Pinhole) SetK(k *mat.Dense) error {
	if k == nil {
		return errors.New("camera matrix is nil")
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	params.Fx = k.At(0, 0)
	params.Skew = k.At(0, 1)
	params.Ppx = k.At(0, 2)
	params.Fy = k.At(1, 1)
	params.Ppy = k.At(1, 2)
	return nil
}

// Offset returns the principal point relative to the image center.
func (params *Pinhole) Offset() (float64, float64) {
	return params.Ppx - float64(params.Width)/2., params.Ppy - float64(params.Height)/2.
}

// SetOffset places the principal point at the given offset from the image
// center.
func (params *Pinhole) SetOffset(x, y float64) {
	params.Ppx = float64(params.Width)/2. + x
	params.Ppy = float64(params.Height)/2. + y
}

// CamFromPixel transforms a pixel to normalized camera-plane coordinates.
func (params *Pinhole) CamFromPixel(pt r2.Point) r2.Point {
	y := (pt.Y - params.Ppy) / params.Fy
	x := (pt.X - params.Ppx - params.Skew*y) / params.Fx
	return r2.Point{X: x, Y: y}
}

// PixelFromCam transforms normalized camera-plane coordinates to a pixel.
func (params *Pinhole) PixelFromCam(pt r2.Point) r2.Point {
	return r2.Point{
		X: params.Fx*pt.X + params.Skew*pt.Y + params.Ppx,
		Y: params.Fy*pt.Y + params.Ppy,
	}
}

// Undistort maps a raw detected pixel to where the ideal pinhole projection
// would have seen it. Without a distortion model it is the identity.
func (params *Pinhole) Undistort(pt r2.Point) r2.Point {
	if params.Distortion == nil {
		return pt
	}
	cam := params.CamFromPixel(pt)
	x, y := params.Distortion.Undistort(cam.X, cam.Y)
	return params.PixelFromCam(r2.Point{X: x, Y: y})
}

// Distort maps an ideal pinhole pixel to the lens-distorted pixel. Without a
// distortion model it is the identity.
func (params *Pinhole) Distort(pt r2.Point) r2.Point {
	if params.Distortion == nil {
		return pt
	}
	cam := params.CamFromPixel(pt)
	x, y := params.Distortion.Transform(cam.X, cam.Y)
	return params.PixelFromCam(r2.Point{X: x, Y: y})
}

// Project maps a point in the camera frame to the pixel it lands on,
// applying the distortion model when one is set. A point at zero depth
// returns negative coordinates so that bounds filtering drops it.
func (params *Pinhole) Project(pt r3.Vector) r2.Point {
	if pt.Z == 0. {
		return r2.Point{X: -1.0, Y: -1.0}
	}
	cam := r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}
	if params.Distortion != nil {
		x, y := params.Distortion.Transform(cam.X, cam.Y)
		cam = r2.Point{X: x, Y: y}
	}
	return params.PixelFromCam(cam)
}
