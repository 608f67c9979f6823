// Package refine adjusts camera poses and intrinsics by nonlinear
// minimization of the reprojection error. The calibration orchestrators only
// depend on the Adjuster interface; the default implementation sits on top
// of nlopt and needs cgo.
package refine

import (
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/sfm/scene"
)

// ErrFailedToConverge reports that the nonlinear solver gave up without a
// usable minimum. The scene is left untouched in that case.
var ErrFailedToConverge = errors.New("refinement failed to converge")

// Options selects the parameter blocks an adjustment is allowed to move.
type Options uint

const (
	// RefineRotation frees the pose rotations.
	RefineRotation Options = 1 << iota
	// RefineTranslation frees the camera centers.
	RefineTranslation
	// RefineFocal frees the focal scales.
	RefineFocal
	// RefineOffset frees the principal point offsets.
	RefineOffset
	// RefineDistortion frees the distortion parameters.
	RefineDistortion
)

// RefineIntrinsicsAll frees every intrinsic parameter block.
const RefineIntrinsicsAll = RefineFocal | RefineOffset | RefineDistortion

// Has reports whether every bit of flag is set.
func (o Options) Has(flag Options) bool {
	return o&flag == flag
}

// Adjuster refines a scene in place.
type Adjuster interface {
	Adjust(sc *scene.Scene, opts Options) error
}

// Config tunes the nlopt adjuster.
type Config struct {
	// Summary logs a residual report after each successful adjustment.
	Summary bool
	// Distance, when positive, pulls each camera-to-board distance toward
	// this value with a weak prior.
	Distance float64
	// MaxEvaluations caps objective evaluations per adjustment. Zero means
	// the default.
	MaxEvaluations int
	// Logger receives progress lines and the summary.
	Logger golog.Logger
	// Clock times adjustments; nil means the wall clock.
	Clock clock.Clock
}
