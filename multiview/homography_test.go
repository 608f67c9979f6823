package multiview

import (
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func homographyTestPoints(h *mat.Dense, nx, ny int) ([]r2.Point, []r2.Point) {
	ref := make([]r2.Point, 0, nx*ny)
	cur := make([]r2.Point, 0, nx*ny)
	for i := 0; i < ny; i++ {
		for j := 0; j < nx; j++ {
			pt := r2.Point{X: 40 + 80*float64(j), Y: 30 + 70*float64(i)}
			ref = append(ref, pt)
			cur = append(cur, ApplyHomography(h, pt))
		}
	}
	return ref, cur
}

func TestFitHomographyExact(t *testing.T) {
	hTrue := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 5,
		-0.05, 0.9, -3,
		1e-4, -2e-4, 1,
	})
	ref, cur := homographyTestPoints(hTrue, 4, 4)

	h, err := FitHomography(ref, cur)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, hTrue.At(i, j), 1e-6)
		}
	}
}

func TestFitHomographyTooFewPoints(t *testing.T) {
	ref := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	_, err := FitHomography(ref, ref)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "at least 4")

	_, err = FitHomography(ref, ref[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateHomographyAllInliers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	hTrue := mat.NewDense(3, 3, []float64{
		1.05, -0.02, 7,
		0.03, 1.1, -4,
		-5e-5, 8e-5, 1,
	})
	ref, cur := homographyTestPoints(hTrue, 6, 5)

	h, inliers, _, err := EstimateHomography(ref, cur, 640, 480, rand.New(rand.NewSource(3)), logger)
	test.That(t, err, test.ShouldBeNil)
	expected := make([]int, len(ref))
	for i := range expected {
		expected[i] = i
	}
	test.That(t, inliers, test.ShouldResemble, expected)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, hTrue.At(i, j), 1e-6)
		}
	}
}

func TestEstimateHomographyWithOutliers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	hTrue := mat.NewDense(3, 3, []float64{
		1.1, 0.05, 12,
		-0.02, 0.95, -8,
		5e-5, -1e-4, 1,
	})
	ref, cur := homographyTestPoints(hTrue, 8, 6)
	nInliers := len(ref)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 12; i++ {
		pt := r2.Point{X: 640 * rng.Float64(), Y: 480 * rng.Float64()}
		ref = append(ref, pt)
		cur = append(cur, ApplyHomography(hTrue, pt).Add(r2.Point{X: 30 + 50*rng.Float64(), Y: -40 - 30*rng.Float64()}))
	}

	h, inliers, threshold, err := EstimateHomography(ref, cur, 640, 480, rng, logger)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, hTrue.At(i, j), 1e-6)
		}
	}
	expected := make([]int, nInliers)
	for i := range expected {
		expected[i] = i
	}
	test.That(t, inliers, test.ShouldResemble, expected)
	test.That(t, threshold, test.ShouldBeLessThan, 1e-6)
}

func TestEstimateHomographyMismatchedPoints(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ref := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}
	rng := rand.New(rand.NewSource(1))
	_, _, _, err := EstimateHomography(ref, ref[:1], 640, 480, rng, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
