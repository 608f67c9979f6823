// Package multiview implements the minimal geometric solvers behind the
// robust estimators: planar homographies, perspective-three-point resection,
// and projection-matrix decomposition.
package multiview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProjectionFromKRt builds the 3x4 projection matrix P = K*[R|t].
func ProjectionFromKRt(k, rot *mat.Dense, t r3.Vector) *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Set(i, j, rot.At(i, j))
		}
	}
	rt.Set(0, 3, t.X)
	rt.Set(1, 3, t.Y)
	rt.Set(2, 3, t.Z)
	p := mat.NewDense(3, 4, nil)
	p.Mul(k, rt)
	return p
}

// ProjectPoint applies a 3x4 projection matrix to a world point and returns
// the image point after the homogeneous divide.
func ProjectPoint(p *mat.Dense, pt r3.Vector) r2.Point {
	x := p.At(0, 0)*pt.X + p.At(0, 1)*pt.Y + p.At(0, 2)*pt.Z + p.At(0, 3)
	y := p.At(1, 0)*pt.X + p.At(1, 1)*pt.Y + p.At(1, 2)*pt.Z + p.At(1, 3)
	w := p.At(2, 0)*pt.X + p.At(2, 1)*pt.Y + p.At(2, 2)*pt.Z + p.At(2, 3)
	return r2.Point{X: x / w, Y: y / w}
}

// ProjectionDistanceSquared is the squared pixel distance between the
// projection of a world point and its observed image point.
func ProjectionDistanceSquared(p *mat.Dense, pt3 r3.Vector, pt2 r2.Point) float64 {
	d := ProjectPoint(p, pt3).Sub(pt2)
	return d.X*d.X + d.Y*d.Y
}

// KRtFromProjection decomposes a 3x4 projection matrix into an upper
// triangular calibration matrix K with positive diagonal, a rotation R with
// determinant +1, and a translation, using the RQ decomposition of the
// leading 3x3 block (Givens rotations, HZ A4.1.1).
func KRtFromProjection(p *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	if r, c := p.Dims(); r != 3 || c != 4 {
		return nil, nil, r3.Vector{}, errors.Errorf("projection matrix must be 3x4, got %dx%d", r, c)
	}
	k := mat.DenseCopyOf(p.Slice(0, 3, 0, 3))
	q := eye(3)

	// zero K(2,1) with a rotation around x
	if k.At(2, 1) != 0 {
		c, s := givens(-k.At(2, 2), k.At(2, 1))
		qx := mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, -s, 0, s, c})
		k.Mul(k, qx)
		q.Mul(transposeDense(qx), q)
	}
	// zero K(2,0) with a rotation around y
	if k.At(2, 0) != 0 {
		c, s := givens(k.At(2, 2), k.At(2, 0))
		qy := mat.NewDense(3, 3, []float64{c, 0, s, 0, 1, 0, -s, 0, c})
		k.Mul(k, qy)
		q.Mul(transposeDense(qy), q)
	}
	// zero K(1,0) with a rotation around z
	if k.At(1, 0) != 0 {
		c, s := givens(-k.At(1, 1), k.At(1, 0))
		qz := mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
		k.Mul(k, qz)
		q.Mul(transposeDense(qz), q)
	}
	rot := q

	// force the diagonal of K positive
	if k.At(2, 2) < 0 {
		k.Scale(-1, k)
		rot.Scale(-1, rot)
	}
	if k.At(1, 1) < 0 {
		s := mat.NewDense(3, 3, []float64{1, 0, 0, 0, -1, 0, 0, 0, 1})
		k.Mul(k, s)
		rot.Mul(s, rot)
	}
	if k.At(0, 0) < 0 {
		s := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
		k.Mul(k, s)
		rot.Mul(s, rot)
	}

	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, nil, r3.Vector{}, errors.Wrap(err, "projection matrix has a singular calibration block")
	}
	p3 := r3.Vector{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}
	t := r3.Vector{
		X: kInv.At(0, 0)*p3.X + kInv.At(0, 1)*p3.Y + kInv.At(0, 2)*p3.Z,
		Y: kInv.At(1, 0)*p3.X + kInv.At(1, 1)*p3.Y + kInv.At(1, 2)*p3.Z,
		Z: kInv.At(2, 0)*p3.X + kInv.At(2, 1)*p3.Y + kInv.At(2, 2)*p3.Z,
	}
	if mat.Det(rot) < 0 {
		rot.Scale(-1, rot)
		t = t.Mul(-1)
	}
	k.Scale(1/k.At(2, 2), k)
	return k, rot, t, nil
}

// givens returns the cosine and sine normalizing the pair (c, s).
func givens(c, s float64) (float64, float64) {
	l := math.Hypot(c, s)
	return c / l, s / l
}

// helpers
// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	// compute centroid of points
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / float64(nPoints)
	}
	scale := math.Sqrt(2) / d
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	// apply transform to points
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// mat.Dense utils.
func transposeDense(m *mat.Dense) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m3 := m.T()
	m2.Copy(m3)
	return m2
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}

	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	singularValues := svd.Values(nil)
	// firstly create diag matrix. Next fill new sigma matrix with zeros
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}
