package multiview

import (
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/robust"
)

// maxRobustIterations caps the consensus loop for homography and resection
// estimation.
const maxRobustIterations = 1024

// ApplyHomography transforms a 2D point by a 3x3 homography.
func ApplyHomography(h *mat.Dense, pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// FitHomography fits the homography mapping ref onto cur from at least 4
// correspondences with the normalized direct linear transform (Multiple View
// Geometry, Alg 4.2). The result is scaled so that its (2,2) entry is 1.
func FitHomography(ref, cur []r2.Point) (*mat.Dense, error) {
	if len(ref) != len(cur) {
		return nil, errors.Errorf("got %d reference points but %d current points", len(ref), len(cur))
	}
	if len(ref) < 4 {
		return nil, errors.Errorf("need at least 4 point pairs to fit a homography, got %d", len(ref))
	}
	refNorm, t1 := normalizePoints(ref)
	curNorm, t2 := normalizePoints(cur)
	// each correspondence contributes two rows of the constraint system A*h = 0
	a := mat.NewDense(2*len(ref), 9, nil)
	for i := range refNorm {
		x, y := refNorm[i].X, refNorm[i].Y
		u, v := curNorm[i].X, curNorm[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}
	svd := performSVD(a)
	if svd == nil {
		return nil, errors.New("could not perform SVD on homography constraints")
	}
	hNorm := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			hNorm.Set(i, j, svd.V.At(3*i+j, 8))
		}
	}
	// undo the normalization, h maps ref to cur
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "could not invert normalization transform")
	}
	h := mat.NewDense(3, 3, nil)
	h.Mul(hNorm, t1)
	h.Mul(&t2Inv, h)
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, errors.New("points are in a degenerate configuration")
	}
	h.Scale(1./scale, h)
	return h, nil
}

// homographyKernel adapts homography fitting to the consensus loop. Residuals
// are squared transfer errors in the current image.
type homographyKernel struct {
	ref, cur  []r2.Point
	logAlpha0 float64
}

func (k *homographyKernel) SampleSize() int      { return 4 }
func (k *homographyKernel) ModelsPerSample() int { return 1 }
func (k *homographyKernel) Count() int           { return len(k.ref) }
func (k *homographyKernel) LogAlpha0() float64   { return k.logAlpha0 }
func (k *homographyKernel) MultError() float64   { return 1.0 }

func (k *homographyKernel) Fit(sample []int) []*mat.Dense {
	ref := make([]r2.Point, len(sample))
	cur := make([]r2.Point, len(sample))
	for i, idx := range sample {
		ref[i] = k.ref[idx]
		cur[i] = k.cur[idx]
	}
	h, err := FitHomography(ref, cur)
	if err != nil {
		return nil
	}
	return []*mat.Dense{h}
}

func (k *homographyKernel) Residual(h *mat.Dense, i int) float64 {
	d := ApplyHomography(h, k.ref[i]).Sub(k.cur[i])
	return d.X*d.X + d.Y*d.Y
}

// EstimateHomography robustly fits the homography mapping ref onto cur with
// an a-contrario consensus loop. The image dimensions set the error scale of
// the null model. It returns the homography, the indices of the inlier
// correspondences and the adaptive squared inlier threshold.
func EstimateHomography(
	ref, cur []r2.Point,
	width, height int,
	rng *rand.Rand,
	logger golog.Logger,
) (*mat.Dense, []int, float64, error) {
	if len(ref) != len(cur) {
		return nil, nil, 0, errors.Errorf("got %d reference points but %d current points", len(ref), len(cur))
	}
	kernel := &homographyKernel{
		ref:       ref,
		cur:       cur,
		logAlpha0: math.Log10(math.Pi / (float64(width) * float64(height))),
	}
	res, err := robust.Ransac[*mat.Dense](kernel, rng, maxRobustIterations, logger)
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "cannot estimate a homography")
	}
	return res.Model, res.Inliers, res.Threshold, nil
}
