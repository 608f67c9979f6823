package multiview

import (
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/robust"
)

// P3PPose is one camera pose candidate from the perspective-three-point
// solver. Rotation maps world coordinates to camera coordinates.
type P3PPose struct {
	Rotation *mat.Dense
	Center   r3.Vector
}

// solveQuarticReal returns the real roots of the quartic
// a4*x^4 + a3*x^3 + a2*x^2 + a1*x + a0 = 0 from the eigenvalues of its
// companion matrix.
func solveQuarticReal(a4, a3, a2, a1, a0 float64) []float64 {
	if math.Abs(a4) < 1e-15 {
		return nil
	}
	b3, b2, b1, b0 := a3/a4, a2/a4, a1/a4, a0/a4
	companion := mat.NewDense(4, 4, []float64{
		-b3, -b2, -b1, -b0,
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil
	}
	roots := make([]float64, 0, 4)
	for _, v := range eig.Values(nil) {
		if math.Abs(imag(v)) < 1e-8*(1+math.Abs(real(v))) {
			roots = append(roots, real(v))
		}
	}
	return roots
}

// SolveP3P computes up to four camera poses fitting three world points and
// the unit bearing vectors of their observations, with the parametrization
// of Kneip et al., "A Novel Parametrization of the Perspective-Three-Point
// Problem". Collinear world points have no solution.
func SolveP3P(bearings, worldPts [3]r3.Vector) []P3PPose {
	f1, f2, f3 := bearings[0], bearings[1], bearings[2]
	p1, p2, p3 := worldPts[0], worldPts[1], worldPts[2]

	// intermediate camera frame spanned by the first two bearings
	tzRaw := f1.Cross(f2)
	if tzRaw.Norm() < 1e-12 {
		return nil
	}
	tz := tzRaw.Normalize()
	// keep the third bearing below the x-y plane of that frame
	if tz.Dot(f3) > 0 {
		f1, f2 = f2, f1
		p1, p2 = p2, p1
		tz = f1.Cross(f2).Normalize()
	}
	tx := f1
	ty := tz.Cross(tx)
	f3t := r3.Vector{X: tx.Dot(f3), Y: ty.Dot(f3), Z: tz.Dot(f3)}
	if math.Abs(f3t.Z) < 1e-12 {
		return nil
	}

	// world frame spanned by the three points
	nxRaw := p2.Sub(p1)
	d12 := nxRaw.Norm()
	if d12 < 1e-12 {
		return nil
	}
	nx := nxRaw.Mul(1 / d12)
	nzRaw := nx.Cross(p3.Sub(p1))
	if nzRaw.Norm() < 1e-12 {
		return nil
	}
	nz := nzRaw.Normalize()
	ny := nz.Cross(nx)
	n := mat.NewDense(3, 3, []float64{
		nx.X, nx.Y, nx.Z,
		ny.X, ny.Y, ny.Z,
		nz.X, nz.Y, nz.Z,
	})
	tT := mat.NewDense(3, 3, []float64{
		tx.X, ty.X, tz.X,
		tx.Y, ty.Y, tz.Y,
		tx.Z, ty.Z, tz.Z,
	})

	p3Local := p3.Sub(p1)
	pe1 := nx.Dot(p3Local)
	pe2 := ny.Dot(p3Local)
	phi1 := f3t.X / f3t.Z
	phi2 := f3t.Y / f3t.Z
	cosBeta := f1.Dot(f2)
	b := 1/(1-cosBeta*cosBeta) - 1
	if cosBeta < 0 {
		b = -math.Sqrt(b)
	} else {
		b = math.Sqrt(b)
	}

	phi1Pw2 := phi1 * phi1
	phi2Pw2 := phi2 * phi2
	p1Pw2 := pe1 * pe1
	p1Pw3 := p1Pw2 * pe1
	p1Pw4 := p1Pw3 * pe1
	p2Pw2 := pe2 * pe2
	p2Pw3 := p2Pw2 * pe2
	p2Pw4 := p2Pw3 * pe2
	d12Pw2 := d12 * d12
	bPw2 := b * b

	a4 := -phi2Pw2*p2Pw4 - p2Pw4*phi1Pw2 - p2Pw4
	a3 := 2*p2Pw3*d12*b + 2*phi2Pw2*p2Pw3*d12*b - 2*phi2*p2Pw3*phi1*d12
	a2 := -phi2Pw2*p2Pw2*p1Pw2 - phi2Pw2*p2Pw2*d12Pw2*bPw2 - phi2Pw2*p2Pw2*d12Pw2 +
		phi2Pw2*p2Pw4 + p2Pw4*phi1Pw2 + 2*pe1*p2Pw2*d12 +
		2*phi1*phi2*pe1*p2Pw2*d12*b - p2Pw2*p1Pw2*phi1Pw2 +
		2*pe1*p2Pw2*phi2Pw2*d12 - p2Pw2*d12Pw2*bPw2 - 2*p1Pw2*p2Pw2
	a1 := 2*p1Pw2*pe2*d12*b + 2*phi2*p2Pw3*phi1*d12 - 2*phi2Pw2*p2Pw3*d12*b - 2*pe1*pe2*d12Pw2*b
	a0 := -2*phi2*p2Pw2*phi1*pe1*d12*b + phi2Pw2*p2Pw2*d12Pw2 + 2*p1Pw3*d12 -
		p1Pw2*d12Pw2 + phi2Pw2*p2Pw2*p1Pw2 - p1Pw4 -
		2*phi2Pw2*p2Pw2*pe1*d12 + p2Pw2*phi1Pw2*p1Pw2 + phi2Pw2*p2Pw2*d12Pw2*bPw2

	poses := make([]P3PPose, 0, 4)
	for _, cosTheta := range solveQuarticReal(a4, a3, a2, a1, a0) {
		if math.Abs(cosTheta) > 1 {
			if math.Abs(cosTheta) > 1+1e-8 {
				continue
			}
			cosTheta = math.Copysign(1, cosTheta)
		}
		sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
		cotAlpha := (phi1/phi2*pe1 + cosTheta*pe2 - d12*b) /
			(phi1/phi2*cosTheta*pe2 - pe1 + d12)
		sinAlpha := math.Sqrt(1 / (cotAlpha*cotAlpha + 1))
		cosAlpha := math.Sqrt(1 - sinAlpha*sinAlpha)
		if cotAlpha < 0 {
			cosAlpha = -cosAlpha
		}
		s := sinAlpha*b + cosAlpha
		center := p1.
			Add(nx.Mul(d12 * cosAlpha * s)).
			Add(ny.Mul(d12 * sinAlpha * cosTheta * s)).
			Add(nz.Mul(d12 * sinAlpha * sinTheta * s))
		cn := center.Norm()
		if math.IsNaN(cn) || math.IsInf(cn, 0) {
			continue
		}
		q := mat.NewDense(3, 3, []float64{
			-cosAlpha, -sinAlpha * cosTheta, -sinAlpha * sinTheta,
			sinAlpha, -cosAlpha * cosTheta, -cosAlpha * sinTheta,
			0, -sinTheta, cosTheta,
		})
		rot := mat.NewDense(3, 3, nil)
		rot.Mul(q, n)
		rot.Mul(tT, rot)
		poses = append(poses, P3PPose{Rotation: rot, Center: center})
	}
	return poses
}

// resectionKernel adapts the perspective-three-point solver to the consensus
// loop over 2D-3D correspondences. Residuals are squared reprojection errors.
type resectionKernel struct {
	pts3      []r3.Vector
	pts2      []r2.Point
	bearings  []r3.Vector
	k         *mat.Dense
	logAlpha0 float64
}

func (k *resectionKernel) SampleSize() int      { return 3 }
func (k *resectionKernel) ModelsPerSample() int { return 4 }
func (k *resectionKernel) Count() int           { return len(k.pts3) }
func (k *resectionKernel) LogAlpha0() float64   { return k.logAlpha0 }
func (k *resectionKernel) MultError() float64   { return 1.0 }

func (k *resectionKernel) Fit(sample []int) []*mat.Dense {
	bearings := [3]r3.Vector{k.bearings[sample[0]], k.bearings[sample[1]], k.bearings[sample[2]]}
	worldPts := [3]r3.Vector{k.pts3[sample[0]], k.pts3[sample[1]], k.pts3[sample[2]]}
	solutions := SolveP3P(bearings, worldPts)
	models := make([]*mat.Dense, 0, len(solutions))
	for _, sol := range solutions {
		rot, c := sol.Rotation, sol.Center
		t := r3.Vector{
			X: -(rot.At(0, 0)*c.X + rot.At(0, 1)*c.Y + rot.At(0, 2)*c.Z),
			Y: -(rot.At(1, 0)*c.X + rot.At(1, 1)*c.Y + rot.At(1, 2)*c.Z),
			Z: -(rot.At(2, 0)*c.X + rot.At(2, 1)*c.Y + rot.At(2, 2)*c.Z),
		}
		models = append(models, ProjectionFromKRt(k.k, rot, t))
	}
	return models
}

func (k *resectionKernel) Residual(p *mat.Dense, i int) float64 {
	return ProjectionDistanceSquared(p, k.pts3[i], k.pts2[i])
}

// EstimatePose robustly estimates the pose of a calibrated camera from 2D-3D
// correspondences with an a-contrario consensus loop around the
// perspective-three-point solver. It returns the world to camera rotation,
// the camera center and the indices of the inlier correspondences.
func EstimatePose(
	pts3 []r3.Vector,
	pts2 []r2.Point,
	k *mat.Dense,
	width, height int,
	rng *rand.Rand,
	logger golog.Logger,
) (*mat.Dense, r3.Vector, []int, error) {
	if len(pts3) != len(pts2) {
		return nil, r3.Vector{}, nil, errors.Errorf("got %d world points but %d image points", len(pts3), len(pts2))
	}
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, r3.Vector{}, nil, errors.Wrap(err, "could not invert the intrinsic matrix")
	}
	bearings := make([]r3.Vector, len(pts2))
	for i, pt := range pts2 {
		bearings[i] = r3.Vector{
			X: kInv.At(0, 0)*pt.X + kInv.At(0, 1)*pt.Y + kInv.At(0, 2),
			Y: kInv.At(1, 0)*pt.X + kInv.At(1, 1)*pt.Y + kInv.At(1, 2),
			Z: kInv.At(2, 0)*pt.X + kInv.At(2, 1)*pt.Y + kInv.At(2, 2),
		}.Normalize()
	}
	kernel := &resectionKernel{
		pts3:      pts3,
		pts2:      pts2,
		bearings:  bearings,
		k:         k,
		logAlpha0: math.Log10(math.Pi / (float64(width) * float64(height))),
	}
	res, err := robust.Ransac[*mat.Dense](kernel, rng, maxRobustIterations, logger)
	if err != nil {
		return nil, r3.Vector{}, nil, errors.Wrap(err, "cannot estimate a camera pose")
	}
	_, rot, t, err := KRtFromProjection(res.Model)
	if err != nil {
		return nil, r3.Vector{}, nil, err
	}
	center := r3.Vector{
		X: -(rot.At(0, 0)*t.X + rot.At(1, 0)*t.Y + rot.At(2, 0)*t.Z),
		Y: -(rot.At(0, 1)*t.X + rot.At(1, 1)*t.Y + rot.At(2, 1)*t.Z),
		Z: -(rot.At(0, 2)*t.X + rot.At(1, 2)*t.Y + rot.At(2, 2)*t.Z),
	}
	return rot, center, res.Inliers, nil
}
