//go:build !windows && !no_cgo

package refine

import (
	"bytes"
	"maps"
	"slices"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/go-nlopt/nlopt"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/scene"
)

const (
	defaultMaxEvaluations = 4001
	gradientJump          = 1e-8
	stopEpsilon           = 1e-12
	tolEpsilon            = 1e-10
	distancePriorWeight   = 0.01
)

// NloptAdjuster refines poses and pinhole intrinsics by minimizing the
// weighted sum of squared reprojection errors with SLSQP and forward
// finite-difference gradients.
type NloptAdjuster struct {
	cfg Config
}

// NewNloptAdjuster creates an adjuster with the given configuration, filling
// in a global logger, a wall clock, and the default evaluation budget where
// the config leaves them empty.
func NewNloptAdjuster(cfg Config) (*NloptAdjuster, error) {
	if cfg.Logger == nil {
		cfg.Logger = golog.Global
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = defaultMaxEvaluations
	}
	return &NloptAdjuster{cfg: cfg}, nil
}

// residualTerm is one landmark observation flattened for evaluation: indices
// into the pose and intrinsic blocks plus the data needed to reproject.
type residualTerm struct {
	poseIdx int
	intrIdx int
	point   r3.Vector
	obs     r2.Point
	weight  float64
}

// problem is one packed adjustment: the free-parameter layout over the
// scene's poses and pinhole intrinsics, and the flattened observations the
// cost sums over.
type problem struct {
	sc   *scene.Scene
	opts Options

	poseIDs    []int
	base       []*camera.Pinhole // intrinsics inside the scene, id order
	work       []*camera.Pinhole // scratch copies mutated per evaluation
	terms      []residualTerm
	gridCenter r3.Vector
	distance   float64
	n          int
}

func (adj *NloptAdjuster) newProblem(sc *scene.Scene, opts Options) (*problem, error) {
	prob := &problem{sc: sc, opts: opts, distance: adj.cfg.Distance}
	prob.poseIDs = slices.Sorted(maps.Keys(sc.Poses))

	intrIdx := make(map[int]int)
	for _, id := range slices.Sorted(maps.Keys(sc.Intrinsics)) {
		params, ok := sc.Intrinsics[id].AsPinhole()
		if !ok {
			continue
		}
		intrIdx[id] = len(prob.base)
		prob.base = append(prob.base, params)
		work := *params
		if params.Distortion != nil {
			d, err := camera.NewDistorter(params.Distortion.ModelType(), params.Distortion.Parameters())
			if err != nil {
				return nil, err
			}
			work.Distortion = d
		}
		prob.work = append(prob.work, &work)
	}
	poseIdx := make(map[int]int, len(prob.poseIDs))
	for i, id := range prob.poseIDs {
		poseIdx[id] = i
	}

	var centroid r3.Vector
	for _, lmID := range slices.Sorted(maps.Keys(sc.Landmarks)) {
		lm := sc.Landmarks[lmID]
		centroid = centroid.Add(lm.P)
		for _, viewID := range slices.Sorted(maps.Keys(lm.Observations)) {
			view, ok := sc.Views[viewID]
			if !ok {
				continue
			}
			pi, ok := poseIdx[view.PoseID]
			if !ok {
				continue
			}
			ii, ok := intrIdx[view.IntrinsicID]
			if !ok {
				continue
			}
			obs := lm.Observations[viewID]
			prob.terms = append(prob.terms, residualTerm{
				poseIdx: pi, intrIdx: ii, point: lm.P, obs: obs.Point, weight: obs.Scale,
			})
		}
	}
	if len(prob.terms) == 0 {
		return nil, errors.New("scene has no observations to refine")
	}
	prob.gridCenter = centroid.Mul(1 / float64(len(sc.Landmarks)))
	prob.n = prob.parameterCount()
	if prob.n == 0 {
		return nil, errors.New("no parameters selected to refine")
	}
	return prob, nil
}

func (p *problem) parameterCount() int {
	n := 0
	if p.opts.Has(RefineRotation) {
		n += 3 * len(p.poseIDs)
	}
	if p.opts.Has(RefineTranslation) {
		n += 3 * len(p.poseIDs)
	}
	for _, params := range p.base {
		if p.opts.Has(RefineFocal) {
			n++
			if !params.RatioLocked {
				n++
			}
		}
		if p.opts.Has(RefineOffset) {
			n += 2
		}
		if p.opts.Has(RefineDistortion) && params.Distortion != nil {
			n += len(params.Distortion.Parameters())
		}
	}
	return n
}

// pack serializes the flagged scene parameters into one vector: per pose the
// angle-axis rotation then the center, per intrinsic the focals, the
// principal point offset, and the distortion coefficients.
func (p *problem) pack() []float64 {
	x := make([]float64, 0, p.n)
	for _, id := range p.poseIDs {
		pose := p.sc.Poses[id]
		if p.opts.Has(RefineRotation) {
			aa := scene.AngleAxisFromRotation(pose.Rotation)
			x = append(x, aa.X, aa.Y, aa.Z)
		}
		if p.opts.Has(RefineTranslation) {
			x = append(x, pose.Center.X, pose.Center.Y, pose.Center.Z)
		}
	}
	for _, params := range p.base {
		if p.opts.Has(RefineFocal) {
			x = append(x, params.Fx)
			if !params.RatioLocked {
				x = append(x, params.Fy)
			}
		}
		if p.opts.Has(RefineOffset) {
			ox, oy := params.Offset()
			x = append(x, ox, oy)
		}
		if p.opts.Has(RefineDistortion) && params.Distortion != nil {
			x = append(x, params.Distortion.Parameters()...)
		}
	}
	return x
}

func rotate(rot *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}

// cost evaluates the weighted squared reprojection error at x without
// touching the scene.
func (p *problem) cost(x []float64) float64 {
	idx := 0
	rotations := make([]*mat.Dense, len(p.poseIDs))
	centers := make([]r3.Vector, len(p.poseIDs))
	for i, id := range p.poseIDs {
		pose := p.sc.Poses[id]
		if p.opts.Has(RefineRotation) {
			rotations[i] = scene.RotationFromAngleAxis(r3.Vector{X: x[idx], Y: x[idx+1], Z: x[idx+2]})
			idx += 3
		} else {
			rotations[i] = pose.Rotation
		}
		if p.opts.Has(RefineTranslation) {
			centers[i] = r3.Vector{X: x[idx], Y: x[idx+1], Z: x[idx+2]}
			idx += 3
		} else {
			centers[i] = pose.Center
		}
	}
	for j, work := range p.work {
		if p.opts.Has(RefineFocal) {
			work.Fx = x[idx]
			idx++
			if work.RatioLocked {
				work.Fy = work.Fx
			} else {
				work.Fy = x[idx]
				idx++
			}
		}
		if p.opts.Has(RefineOffset) {
			work.SetOffset(x[idx], x[idx+1])
			idx += 2
		}
		if p.opts.Has(RefineDistortion) && work.Distortion != nil {
			np := len(p.base[j].Distortion.Parameters())
			utils.UncheckedError(work.Distortion.SetParameters(x[idx : idx+np]))
			idx += np
		}
	}

	total := 0.0
	for _, term := range p.terms {
		cam := rotate(rotations[term.poseIdx], term.point.Sub(centers[term.poseIdx]))
		d := p.work[term.intrIdx].Project(cam).Sub(term.obs)
		total += term.weight * (d.X*d.X + d.Y*d.Y)
	}
	if p.distance > 0 {
		for i := range p.poseIDs {
			d := centers[i].Sub(p.gridCenter).Norm() - p.distance
			total += distancePriorWeight * d * d
		}
	}
	return total
}

// apply writes the solution vector back into the scene.
func (p *problem) apply(x []float64) {
	idx := 0
	for _, id := range p.poseIDs {
		pose := p.sc.Poses[id]
		if p.opts.Has(RefineRotation) {
			pose.Rotation = scene.RotationFromAngleAxis(r3.Vector{X: x[idx], Y: x[idx+1], Z: x[idx+2]})
			idx += 3
		}
		if p.opts.Has(RefineTranslation) {
			pose.Center = r3.Vector{X: x[idx], Y: x[idx+1], Z: x[idx+2]}
			idx += 3
		}
	}
	for _, params := range p.base {
		if p.opts.Has(RefineFocal) {
			params.Fx = x[idx]
			idx++
			if params.RatioLocked {
				params.Fy = params.Fx
			} else {
				params.Fy = x[idx]
				idx++
			}
		}
		if p.opts.Has(RefineOffset) {
			params.SetOffset(x[idx], x[idx+1])
			idx += 2
		}
		if p.opts.Has(RefineDistortion) && params.Distortion != nil {
			np := len(params.Distortion.Parameters())
			utils.UncheckedError(params.Distortion.SetParameters(x[idx : idx+np]))
			idx += np
		}
	}
}

// Adjust refines the scene as selected by the options. On success the
// refined poses and intrinsics are written back; on any solver failure the
// scene is left unchanged and the error wraps ErrFailedToConverge.
func (adj *NloptAdjuster) Adjust(sc *scene.Scene, opts Options) error {
	prob, err := adj.newProblem(sc, opts)
	if err != nil {
		return err
	}
	start := adj.cfg.Clock.Now()
	x0 := prob.pack()

	evaluations := 0
	objective := func(x, gradient []float64) float64 {
		evaluations++
		cost := prob.cost(x)
		for i := range gradient {
			orig := x[i]
			x[i] = orig + gradientJump
			gradient[i] = (prob.cost(x) - cost) / gradientJump
			x[i] = orig
		}
		return cost
	}

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(prob.n))
	if err != nil {
		return errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()
	err = multierr.Combine(
		opt.SetFtolRel(tolEpsilon),
		opt.SetFtolAbs(tolEpsilon),
		opt.SetStopVal(stopEpsilon),
		opt.SetXtolRel(tolEpsilon),
		opt.SetMinObjective(objective),
		opt.SetMaxEval(adj.cfg.MaxEvaluations),
	)
	if err != nil {
		return errors.Wrap(err, "nlopt setup error")
	}

	initialCost := prob.cost(x0)
	solution, finalCost, err := opt.Optimize(x0)
	if err != nil {
		return errors.Wrap(ErrFailedToConverge, err.Error())
	}
	prob.apply(solution)
	adj.cfg.Logger.Debugw("adjusted scene",
		"parameters", prob.n,
		"observations", len(prob.terms),
		"initialCost", initialCost,
		"finalCost", finalCost,
		"evaluations", evaluations,
	)
	if adj.cfg.Summary {
		adj.logSummary(sc, initialCost, finalCost, evaluations, adj.cfg.Clock.Since(start))
	}
	return nil
}

// logSummary reports the refined reprojection residuals: aggregate
// statistics plus an ASCII histogram.
func (adj *NloptAdjuster) logSummary(
	sc *scene.Scene,
	initialCost, finalCost float64,
	evaluations int,
	duration time.Duration,
) {
	residuals := sc.ReprojectionResiduals()
	if len(residuals) == 0 {
		return
	}
	mean, _ := stats.Mean(residuals)
	median, _ := stats.Median(residuals)
	maxRes, _ := stats.Max(residuals)
	p95, _ := stats.Percentile(residuals, 95)
	adj.cfg.Logger.Infow("adjustment summary",
		"initialCost", initialCost,
		"finalCost", finalCost,
		"evaluations", evaluations,
		"duration", duration,
		"residualMeanPx", mean,
		"residualMedianPx", median,
		"residualP95Px", p95,
		"residualMaxPx", maxRes,
	)
	var buf bytes.Buffer
	if err := histogram.Fprint(&buf, histogram.Hist(10, residuals), histogram.Linear(40)); err == nil {
		adj.cfg.Logger.Infof("reprojection residuals (px):\n%s", buf.String())
	}
}
