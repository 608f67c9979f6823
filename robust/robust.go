// Package robust implements the a-contrario consensus loop shared by the
// robust model fitters. A Kernel supplies the minimal-sample solver and the
// residual function; the loop selects the inlier threshold adaptively by
// minimizing the number of false alarms (NFA) of each candidate model.
package robust

import (
	"math"
	"math/rand"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// ErrTooFewSamples is when the input has fewer correspondences than a
// minimal sample.
var ErrTooFewSamples = errors.New("not enough correspondences to estimate a model")

// ErrNoConsensus is when no candidate model reaches a meaningful consensus.
var ErrNoConsensus = errors.New("no consensus reached on a valid model")

// Kernel bundles the data and the minimal-sample solver of one estimation
// problem. Residuals are squared errors.
type Kernel[M any] interface {
	// SampleSize is the cardinality of a minimal sample.
	SampleSize() int
	// ModelsPerSample is the maximum number of candidate models one minimal
	// sample can produce.
	ModelsPerSample() int
	// Count is the number of correspondences.
	Count() int
	// Fit solves the minimal problem on the sampled indices. It may return
	// no models for degenerate samples.
	Fit(sample []int) []M
	// Residual is the squared error of correspondence i under the model.
	Residual(model M, i int) float64
	// LogAlpha0 is log10 of the probability that a random correspondence
	// has a unit residual, typically log10(pi/area) for point errors.
	LogAlpha0() float64
	// MultError scales log squared residuals into log error probabilities:
	// 1.0 for point-to-point distances, 0.5 for point-to-line.
	MultError() float64
}

// Result is the outcome of a consensus run.
type Result[M any] struct {
	Model M
	// Inliers holds the indices of the consensus set in ascending order.
	Inliers []int
	// Threshold is the adaptively selected squared-error cutoff.
	Threshold float64
	// LogNFA is the log10 number of false alarms of the winning model;
	// always negative for a valid result.
	LogNFA float64
}

// residual values of zero would send log10 to -Inf in the NFA scoring
const minResidual = 1e-30

// probability of finding an all-inlier sample that the adaptive iteration
// budget aims for
const confidence = 0.99

// Ransac runs the consensus loop: uniform minimal samples from rng, NFA
// scoring of every candidate model, and an iteration budget that shrinks as
// better models appear (nIter = log(1-p)/log(1-w^s), w the inlier ratio).
// The last tenth of the budget resamples inside the best inlier set.
func Ransac[M any](kernel Kernel[M], rng *rand.Rand, maxIterations int, logger golog.Logger) (Result[M], error) {
	n := kernel.Count()
	sampleSize := kernel.SampleSize()
	var best Result[M]
	if n < sampleSize {
		return best, errors.Wrapf(ErrTooFewSamples, "%d correspondences, minimal sample is %d", n, sampleSize)
	}
	best.LogNFA = math.Inf(1)
	if n == sampleSize {
		return best, errors.Wrap(ErrNoConsensus, "nothing to validate a minimal fit against")
	}

	// log10 binomial tables for the NFA score
	logcN := make([]float64, n+1)
	logcK := make([]float64, n+1)
	for k := sampleSize; k <= n; k++ {
		logcN[k] = logCombination(n, k)
		logcK[k] = logCombination(k, sampleSize)
	}
	loge0 := math.Log10(float64(kernel.ModelsPerSample() * (n - sampleSize)))

	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	scratch := make([]int, n)
	sample := make([]int, sampleSize)
	type scored struct {
		idx      int
		residual float64
	}
	residuals := make([]scored, n)

	nIter := maxIterations
	reserve := maxIterations / 10
	for iter := 0; iter < nIter; iter++ {
		from := pool
		if len(best.Inliers) > sampleSize && iter >= nIter-reserve {
			from = best.Inliers
		}
		// sample from a copy so the best inlier set keeps its order
		draw := scratch[:len(from)]
		copy(draw, from)
		drawSample(sample, draw, rng)
		for _, model := range kernel.Fit(sample) {
			for i := 0; i < n; i++ {
				residuals[i] = scored{idx: i, residual: kernel.Residual(model, i)}
			}
			sort.Slice(residuals, func(i, j int) bool { return residuals[i].residual < residuals[j].residual })

			bestNFA, bestK := math.Inf(1), 0
			for k := sampleSize + 1; k <= n; k++ {
				logAlpha := kernel.LogAlpha0() + kernel.MultError()*math.Log10(residuals[k-1].residual+minResidual)
				nfa := loge0 + logAlpha*float64(k-sampleSize) + logcN[k] + logcK[k]
				if nfa < bestNFA {
					bestNFA, bestK = nfa, k
				}
			}
			if bestNFA >= best.LogNFA || bestNFA >= 0 {
				continue
			}
			inliers := make([]int, bestK)
			for i := range inliers {
				inliers[i] = residuals[i].idx
			}
			sort.Ints(inliers)
			best = Result[M]{
				Model:     model,
				Inliers:   inliers,
				Threshold: residuals[bestK-1].residual,
				LogNFA:    bestNFA,
			}
			nIter = adjustIterations(nIter, maxIterations, iter, reserve, bestK, n, sampleSize)
		}
	}
	if math.IsInf(best.LogNFA, 1) {
		return best, ErrNoConsensus
	}
	if logger != nil {
		logger.Debugf("consensus model with %d/%d inliers, threshold %.4g, log10(NFA) %.2f",
			len(best.Inliers), n, best.Threshold, best.LogNFA)
	}
	return best, nil
}

// adjustIterations shrinks the remaining budget once a model with inlier
// count k is known, always leaving the resample-within-inliers phase.
func adjustIterations(nIter, maxIterations, iter, reserve, k, n, sampleSize int) int {
	w := float64(k) / float64(n)
	denom := math.Log(1. - math.Pow(w, float64(sampleSize)))
	if denom >= 0 || math.IsInf(denom, -1) {
		// w is essentially 1, the model explains everything
		return min(nIter, iter+1+reserve)
	}
	needed := int(math.Ceil(math.Log(1.-confidence) / denom))
	if needed < 0 || needed > maxIterations {
		needed = maxIterations
	}
	return max(min(nIter, needed+reserve), iter+1)
}

// drawSample fills sample with distinct indices drawn uniformly from pool.
func drawSample(sample, pool []int, rng *rand.Rand) {
	for i := range sample {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		sample[i] = pool[i]
	}
}

// logCombination returns log10 of the binomial coefficient C(n, k).
func logCombination(n, k int) float64 {
	lg, _ := math.Lgamma(float64(n + 1))
	lgK, _ := math.Lgamma(float64(k + 1))
	lgNK, _ := math.Lgamma(float64(n - k + 1))
	return (lg - lgK - lgNK) / math.Ln10
}
