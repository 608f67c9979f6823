package scene

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RotationFromAngleAxis returns the rotation matrix for a rotation of
// aa.Norm() radians around the direction of aa (Rodrigues' formula). The
// zero vector gives the identity.
func RotationFromAngleAxis(aa r3.Vector) *mat.Dense {
	rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	theta := aa.Norm()
	if theta == 0 {
		return rot
	}
	axis := aa.Mul(1. / theta)
	sinT, cosT := math.Sin(theta), math.Cos(theta)
	k := mat.NewDense(3, 3, []float64{
		0, -axis.Z, axis.Y,
		axis.Z, 0, -axis.X,
		-axis.Y, axis.X, 0,
	})
	var kSq mat.Dense
	kSq.Mul(k, k)
	var term mat.Dense
	term.Scale(sinT, k)
	rot.Add(rot, &term)
	term.Scale(1.-cosT, &kSq)
	rot.Add(rot, &term)
	return rot
}

// AngleAxisFromRotation returns the angle-axis vector of a rotation matrix,
// the inverse of RotationFromAngleAxis.
func AngleAxisFromRotation(rot *mat.Dense) r3.Vector {
	trace := rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2)
	cosTheta := math.Max(-1., math.Min(1., (trace-1.)/2.))
	theta := math.Acos(cosTheta)
	if theta < 1e-12 {
		return r3.Vector{}
	}
	if math.Pi-theta < 1e-6 {
		// near pi the skew-symmetric part vanishes; recover the axis from
		// the diagonal of R+I and fix signs with the off-diagonal sums
		axis := r3.Vector{
			X: math.Sqrt(math.Max(0., (rot.At(0, 0)+1.)/2.)),
			Y: math.Sqrt(math.Max(0., (rot.At(1, 1)+1.)/2.)),
			Z: math.Sqrt(math.Max(0., (rot.At(2, 2)+1.)/2.)),
		}
		switch {
		case axis.X >= axis.Y && axis.X >= axis.Z:
			if rot.At(0, 1)+rot.At(1, 0) < 0 {
				axis.Y = -axis.Y
			}
			if rot.At(0, 2)+rot.At(2, 0) < 0 {
				axis.Z = -axis.Z
			}
		case axis.Y >= axis.Z:
			if rot.At(0, 1)+rot.At(1, 0) < 0 {
				axis.X = -axis.X
			}
			if rot.At(1, 2)+rot.At(2, 1) < 0 {
				axis.Z = -axis.Z
			}
		default:
			if rot.At(0, 2)+rot.At(2, 0) < 0 {
				axis.X = -axis.X
			}
			if rot.At(1, 2)+rot.At(2, 1) < 0 {
				axis.Y = -axis.Y
			}
		}
		return axis.Normalize().Mul(theta)
	}
	scale := theta / (2. * math.Sin(theta))
	return r3.Vector{
		X: (rot.At(2, 1) - rot.At(1, 2)) * scale,
		Y: (rot.At(0, 2) - rot.At(2, 0)) * scale,
		Z: (rot.At(1, 0) - rot.At(0, 1)) * scale,
	}
}

// NearestRotation returns the rotation matrix closest to m in the Frobenius
// sense: R = U*Vᵀ from the SVD of m, with the determinant forced to +1.
func NearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// flip the smallest singular direction
		d := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		rot.Mul(&ud, v.T())
	}
	out := mat.NewDense(3, 3, nil)
	out.Copy(&rot)
	return out, nil
}
