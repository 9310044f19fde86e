package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultThresholdsAreValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultThresholds().Validate())
}

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Thresholds)
		wantErr string
	}{
		{"zero failure limit", func(th *Thresholds) { th.ConsecutiveFailureLimit = 0 }, "consecutive failure limit"},
		{"zero min requests", func(th *Thresholds) { th.MinRequestsForRate = 0 }, "minimum requests"},
		{"unhealthy rate too high", func(th *Thresholds) { th.UnhealthyRate = 1.5 }, "unhealthy rate"},
		{"degraded below unhealthy", func(th *Thresholds) { th.DegradedRate = 0.3 }, "degraded rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			th := DefaultThresholds()
			tt.mutate(&th)
			err := th.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
