package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestOLSRWeightsSum(t *testing.T) {
	w := Default().OLSRWeights
	require.InDelta(t, 1.0, w.Sum(), 1e-6)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.OLSRWeights.Battery = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveInterval(t *testing.T) {
	cfg := Default()
	cfg.PAInterval = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPHWillingnessThreshold(t *testing.T) {
	cfg := Default()
	cfg.PHWillingnessThresh = 9
	require.Error(t, cfg.Validate())
}
