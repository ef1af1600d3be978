// Package detection describes the detection model capability: what goes
// into one invocation and what comes back.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"
)

// ErrModelUnavailable is returned while the model artifact is missing or
// could not be loaded. It stays in effect until a successful Reload.
var ErrModelUnavailable = errors.New("detection model unavailable")

// ErrContractViolation marks an invoker result that breaks the output contract.
var ErrContractViolation = errors.New("detector output violates contract")

// Object is one detected object.
type Object struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Options are the per-call thresholds and annotation toggles.
type Options struct {
	Confidence     float64
	IOU            float64
	ShowLabels     bool
	ShowConfidence bool
}

// Result is the output of one invocation.
type Result struct {
	Annotated image.Image
	Objects   []Object
	Inference time.Duration
}

// Status reports whether the model can be invoked.
type Status struct {
	Available bool      `json:"available"`
	Model     string    `json:"model"`
	Format    string    `json:"format"`
	Classes   int       `json:"classes"`
	Reason    string    `json:"reason,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
}

// Invoker runs the detection model on one image or frame.
// Detect returns ErrModelUnavailable (possibly wrapped) while Status().Available is false.
type Invoker interface {
	Detect(ctx context.Context, img image.Image, opts Options) (*Result, error)
	Status() Status
}

// Reloader is implemented by invokers that can retry loading their model.
type Reloader interface {
	Reload() error
}

// CheckResult verifies the invoker output contract: an annotated image is
// present and every confidence is a finite value in [0,1].
func CheckResult(res *Result) error {
	if res == nil {
		return fmt.Errorf("%w: nil result", ErrContractViolation)
	}
	if res.Annotated == nil {
		return fmt.Errorf("%w: missing annotated image", ErrContractViolation)
	}
	for i, obj := range res.Objects {
		if math.IsNaN(obj.Confidence) || obj.Confidence < 0 || obj.Confidence > 1 {
			return fmt.Errorf("%w: object %d (%s) confidence %v outside [0,1]",
				ErrContractViolation, i, obj.Label, obj.Confidence)
		}
	}
	return nil
}
