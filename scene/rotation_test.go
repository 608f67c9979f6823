package scene

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRotationAngleAxisRoundTrip(t *testing.T) {
	for _, aa := range []r3.Vector{
		{},
		{X: 0.1},
		{Y: -0.7},
		{X: 0.3, Y: -0.4, Z: 0.5},
		{X: 1.2, Y: 1.2, Z: -0.3},
		{X: 0, Y: 0, Z: math.Pi - 1e-3},
	} {
		rot := RotationFromAngleAxis(aa)
		test.That(t, mat.Det(rot), test.ShouldAlmostEqual, 1., 1e-10)
		back := AngleAxisFromRotation(rot)
		test.That(t, back.X, test.ShouldAlmostEqual, aa.X, 1e-8)
		test.That(t, back.Y, test.ShouldAlmostEqual, aa.Y, 1e-8)
		test.That(t, back.Z, test.ShouldAlmostEqual, aa.Z, 1e-8)
	}
}

func TestRotationFromAngleAxisIdentity(t *testing.T) {
	rot := RotationFromAngleAxis(r3.Vector{})
	eye := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, mat.EqualApprox(rot, eye, 1e-15), test.ShouldBeTrue)
}

func TestNearestRotation(t *testing.T) {
	want := RotationFromAngleAxis(r3.Vector{X: 0.2, Y: -0.1, Z: 0.4})
	// perturb away from orthonormality
	noisy := mat.DenseCopyOf(want)
	noisy.Set(0, 0, noisy.At(0, 0)+1e-3)
	noisy.Set(2, 1, noisy.At(2, 1)-2e-3)
	got, err := NearestRotation(noisy)
	test.That(t, err, test.ShouldBeNil)
	var shouldBeEye mat.Dense
	shouldBeEye.Mul(got, got.T())
	eye := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, mat.EqualApprox(&shouldBeEye, eye, 1e-12), test.ShouldBeTrue)
	test.That(t, mat.Det(got), test.ShouldAlmostEqual, 1., 1e-12)
	test.That(t, mat.EqualApprox(got, want, 5e-3), test.ShouldBeTrue)
}
