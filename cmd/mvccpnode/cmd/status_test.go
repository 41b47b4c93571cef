package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStatusCompletesWithoutError(t *testing.T) {
	statusNodesFlag = 3
	statusTicksFlag = 5
	statusRREHFlag = true

	require.NoError(t, runStatus(statusCmd, nil))
}
