package detection

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckResult(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	tests := []struct {
		name    string
		res     *Result
		wantErr bool
	}{
		{"nil result", nil, true},
		{"missing image", &Result{}, true},
		{"empty objects", &Result{Annotated: img}, false},
		{"bounds inclusive", &Result{Annotated: img, Objects: []Object{{Label: "person", Confidence: 0}, {Label: "person", Confidence: 1}}}, false},
		{"negative", &Result{Annotated: img, Objects: []Object{{Label: "car", Confidence: -0.1}}}, true},
		{"above one", &Result{Annotated: img, Objects: []Object{{Label: "car", Confidence: 1.01}}}, true},
		{"nan", &Result{Annotated: img, Objects: []Object{{Label: "car", Confidence: math.NaN()}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckResult(tt.res)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrContractViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
