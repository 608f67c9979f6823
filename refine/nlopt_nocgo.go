//go:build windows || no_cgo

package refine

import (
	"github.com/pkg/errors"

	"go.viam.com/sfm/scene"
)

// NloptAdjuster mimics the type in the cgo compiled code.
type NloptAdjuster struct{}

// NewNloptAdjuster is not supported on no_cgo builds.
func NewNloptAdjuster(cfg Config) (*NloptAdjuster, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Adjust refuses to refine scenes without cgo.
func (adj *NloptAdjuster) Adjust(sc *scene.Scene, opts Options) error {
	return errors.New("nlopt is not supported on this build")
}
