// Package calibration estimates pinhole intrinsics and initial camera poses
// from checkerboard detections. It implements Zhang's closed-form intrinsic
// solver, a selector for hierarchical nested calibration targets, and the two
// calibration orchestrators (multi-view and single-image nested boards).
package calibration

import (
	"maps"
	"math"
	"slices"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/scene"
)

// ErrDegenerate reports that the homographies constrain the calibration
// matrix in a numerically degenerate way, for example when all views share
// the same board orientation.
var ErrDegenerate = errors.New("degenerate configuration for intrinsic calibration")

// zhangConstraint is the vector v_ij of Zhang's method, relating columns i
// and j of a homography to the absolute conic image B, laid out as
// (B11, B12, B22, B13, B23, B33).
func zhangConstraint(h *mat.Dense, i, j int) []float64 {
	return []float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

// SolveZhang recovers the 3x3 calibration matrix shared by a set of planar
// homographies with Zhang's closed-form method ("A Flexible New Technique
// for Camera Calibration"). Each homography contributes two linear
// constraints on the image of the absolute conic; three or more views in
// distinct orientations determine all five intrinsic parameters. Map keys
// only set the constraint order.
func SolveZhang(homographies map[int]*mat.Dense, logger golog.Logger) (*mat.Dense, error) {
	if len(homographies) == 0 {
		return nil, errors.New("need at least one homography to calibrate")
	}
	ids := slices.Sorted(maps.Keys(homographies))
	v := mat.NewDense(2*len(ids), 6, nil)
	for row, id := range ids {
		h := homographies[id]
		v01 := zhangConstraint(h, 0, 1)
		v00 := zhangConstraint(h, 0, 0)
		v11 := zhangConstraint(h, 1, 1)
		diff := make([]float64, 6)
		for c := range diff {
			diff[c] = v00[c] - v11[c]
		}
		v.SetRow(2*row, v01)
		v.SetRow(2*row+1, diff)
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDFull); !ok {
		return nil, errors.New("could not factorize the calibration constraints")
	}
	vals := svd.Values(nil)
	if len(vals) < 6 {
		logger.Warn("fewer than three homographies, the calibration system is underdetermined")
	} else if vals[4] > 0 && (vals[4]-vals[5]) <= 1e-6*vals[4] {
		logger.Warnw("near-ambiguous calibration null space, intrinsics may be unreliable",
			"singularValues", vals)
	}
	var rightVecs mat.Dense
	svd.VTo(&rightVecs)
	b := make([]float64, 6)
	for i := range b {
		b[i] = rightVecs.At(i, 5)
	}

	// closed-form recovery of the intrinsics from B
	den := b[0]*b[2] - b[1]*b[1]
	if b[0] == 0 || den == 0 {
		return nil, errors.Wrap(ErrDegenerate, "conic matrix has a zero pivot")
	}
	v0 := (b[1]*b[3] - b[0]*b[4]) / den
	lambda := b[5] - (b[3]*b[3]+v0*(b[1]*b[3]-b[0]*b[4]))/b[0]
	alpha2 := lambda / b[0]
	if alpha2 <= 0 {
		return nil, errors.Wrapf(ErrDegenerate, "focal scale squared is %f", alpha2)
	}
	beta2 := lambda * b[0] / den
	if beta2 <= 0 {
		return nil, errors.Wrapf(ErrDegenerate, "vertical focal scale squared is %f", beta2)
	}
	alpha := math.Sqrt(alpha2)
	beta := math.Sqrt(beta2)
	gamma := -b[1] * alpha2 * beta / lambda
	u0 := gamma*v0/beta - b[3]*alpha2/lambda

	return mat.NewDense(3, 3, []float64{
		alpha, gamma, u0,
		0, beta, v0,
		0, 0, 1,
	}), nil
}

// PoseFromHomography decomposes the homography mapping board coordinates to
// undistorted pixels into a camera pose, given the calibration matrix. The
// scale comes from the unit norm of the rotation columns and the sign is
// chosen so the board sits in front of the camera.
func PoseFromHomography(k, h *mat.Dense) (*scene.Pose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "could not invert the calibration matrix")
	}
	m := mat.NewDense(3, 3, nil)
	m.Mul(&kInv, h)
	h0 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	h1 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	h2 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}

	norm := h1.Norm()
	if norm < 1e-12 {
		return nil, errors.Wrap(ErrDegenerate, "homography has a vanishing rotation column")
	}
	lambda := 1 / norm
	if h2.Z*lambda < 0 {
		lambda = -lambda
	}
	t := h2.Mul(lambda)
	m0 := h0.Mul(lambda)
	m1 := h1.Mul(lambda)
	m2 := m0.Cross(m1)
	rot, err := scene.NearestRotation(mat.NewDense(3, 3, []float64{
		m0.X, m1.X, m2.X,
		m0.Y, m1.Y, m2.Y,
		m0.Z, m1.Z, m2.Z,
	}))
	if err != nil {
		return nil, err
	}
	return scene.NewPoseFromRt(rot, t), nil
}
