package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAlert_Boundary(t *testing.T) {
	for _, threshold := range []int{1, 2, 10, 57} {
		below := EvaluateAlert(threshold-1, threshold)
		assert.False(t, below.Active, "count == threshold-1 must not fire (threshold %d)", threshold)

		at := EvaluateAlert(threshold, threshold)
		assert.True(t, at.Active, "count == threshold must fire (threshold %d)", threshold)

		above := EvaluateAlert(threshold+5, threshold)
		assert.True(t, above.Active)
	}
}

func TestEvaluateAlert_Message(t *testing.T) {
	a := EvaluateAlert(12, 10)
	assert.Equal(t, "Alert: 12 objects detected (threshold 10)", a.Message)
	assert.Equal(t, 12, a.Count)
	assert.Equal(t, 10, a.Threshold)

	clear := EvaluateAlert(0, 10)
	assert.False(t, clear.Active)
	assert.Contains(t, clear.Message, "All clear")
}
