package multiview

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/scene"
)

func TestProjectPoint(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	p := ProjectionFromKRt(k, rot, r3.Vector{})

	pt := ProjectPoint(p, r3.Vector{X: 2, Y: 4, Z: 2})
	test.That(t, pt.X, test.ShouldAlmostEqual, 1)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 2)

	d := ProjectionDistanceSquared(p, r3.Vector{X: 2, Y: 4, Z: 2}, r2.Point{X: 1, Y: 3})
	test.That(t, d, test.ShouldAlmostEqual, 1)
}

func TestKRtFromProjectionRoundTrip(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{
		800, 0.5, 320,
		0, 790, 240,
		0, 0, 1,
	})
	rot := scene.RotationFromAngleAxis(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3})
	tr := r3.Vector{X: 0.3, Y: -0.1, Z: 2}
	p := ProjectionFromKRt(k, rot, tr)

	k2, rot2, tr2, err := KRtFromProjection(p)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, k2.At(i, j), test.ShouldAlmostEqual, k.At(i, j), 1e-8)
			test.That(t, rot2.At(i, j), test.ShouldAlmostEqual, rot.At(i, j), 1e-10)
		}
	}
	test.That(t, tr2.X, test.ShouldAlmostEqual, tr.X, 1e-8)
	test.That(t, tr2.Y, test.ShouldAlmostEqual, tr.Y, 1e-8)
	test.That(t, tr2.Z, test.ShouldAlmostEqual, tr.Z, 1e-8)
}

func TestKRtFromProjectionBadShape(t *testing.T) {
	p := mat.NewDense(3, 3, nil)
	_, _, _, err := KRtFromProjection(p)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must be 3x4")
}
