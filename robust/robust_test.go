package robust

import (
	"math"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

// shiftKernel fits a pure 2D translation between point sets, the simplest
// possible minimal problem (one correspondence per sample).
type shiftKernel struct {
	ref, cur []r2.Point
	area     float64
}

func (k *shiftKernel) SampleSize() int      { return 1 }
func (k *shiftKernel) ModelsPerSample() int { return 1 }
func (k *shiftKernel) Count() int           { return len(k.ref) }
func (k *shiftKernel) LogAlpha0() float64   { return math.Log10(math.Pi / k.area) }
func (k *shiftKernel) MultError() float64   { return 1.0 }

func (k *shiftKernel) Fit(sample []int) []r2.Point {
	i := sample[0]
	return []r2.Point{k.cur[i].Sub(k.ref[i])}
}

func (k *shiftKernel) Residual(model r2.Point, i int) float64 {
	d := k.cur[i].Sub(k.ref[i].Add(model))
	return d.X*d.X + d.Y*d.Y
}

func makeShiftData(rng *rand.Rand, nInliers, nOutliers int, shift r2.Point) *shiftKernel {
	kernel := &shiftKernel{area: 1000. * 1000.}
	for i := 0; i < nInliers; i++ {
		pt := r2.Point{X: rng.Float64() * 900., Y: rng.Float64() * 900.}
		kernel.ref = append(kernel.ref, pt)
		kernel.cur = append(kernel.cur, pt.Add(shift))
	}
	for i := 0; i < nOutliers; i++ {
		pt := r2.Point{X: rng.Float64() * 900., Y: rng.Float64() * 900.}
		kernel.ref = append(kernel.ref, pt)
		kernel.cur = append(kernel.cur, r2.Point{X: rng.Float64() * 900., Y: rng.Float64() * 900.})
	}
	return kernel
}

func TestRansacFindsShift(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rng := rand.New(rand.NewSource(17))
	shift := r2.Point{X: 5., Y: -3.}
	kernel := makeShiftData(rng, 30, 8, shift)

	result, err := Ransac[r2.Point](kernel, rng, 256, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Model.X, test.ShouldAlmostEqual, shift.X, 1e-9)
	test.That(t, result.Model.Y, test.ShouldAlmostEqual, shift.Y, 1e-9)
	test.That(t, result.LogNFA, test.ShouldBeLessThan, 0.)

	// the 30 inliers come first in the data, the 8 outliers last
	test.That(t, result.Inliers, test.ShouldHaveLength, 30)
	for i, idx := range result.Inliers {
		test.That(t, idx, test.ShouldEqual, i)
	}
}

func TestRansacDeterministic(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataRng := rand.New(rand.NewSource(3))
	kernel := makeShiftData(dataRng, 25, 10, r2.Point{X: -2., Y: 7.})

	first, err := Ransac[r2.Point](kernel, rand.New(rand.NewSource(99)), 200, logger)
	test.That(t, err, test.ShouldBeNil)
	second, err := Ransac[r2.Point](kernel, rand.New(rand.NewSource(99)), 200, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Inliers, test.ShouldResemble, first.Inliers)
	test.That(t, second.Model, test.ShouldResemble, first.Model)
	test.That(t, second.Threshold, test.ShouldEqual, first.Threshold)
}

func TestRansacTooFewSamples(t *testing.T) {
	logger := golog.NewTestLogger(t)
	rng := rand.New(rand.NewSource(1))

	empty := &shiftKernel{area: 100.}
	_, err := Ransac[r2.Point](empty, rng, 10, logger)
	test.That(t, errors.Is(err, ErrTooFewSamples), test.ShouldBeTrue)

	// a bare minimal sample leaves nothing to validate against
	single := &shiftKernel{
		ref:  []r2.Point{{X: 1, Y: 1}},
		cur:  []r2.Point{{X: 2, Y: 2}},
		area: 100.,
	}
	_, err = Ransac[r2.Point](single, rng, 10, logger)
	test.That(t, errors.Is(err, ErrNoConsensus), test.ShouldBeTrue)
}
