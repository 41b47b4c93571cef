package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncSentBreaksDownByLowercasedType(t *testing.T) {
	c := New()
	c.IncSent("HELLO")
	c.IncSent("hello")
	c.IncSent("PA")

	s := c.Summary()
	require.Equal(t, int64(3), s.Sent.Total)
	require.Equal(t, int64(2), s.Sent.ByType["hello"])
	require.Equal(t, int64(1), s.Sent.ByType["pa"])
}

func TestSessionOutcomeCountersAndTotal(t *testing.T) {
	c := New()
	c.IncSessionSuccess()
	c.IncSessionSuccess()
	c.IncSessionFailed()
	c.IncSessionTimeout()

	s := c.Summary()
	require.Equal(t, int64(2), s.SessionsSuccessful)
	require.Equal(t, int64(1), s.SessionsFailed)
	require.Equal(t, int64(1), s.SessionsTimeout)
	require.Equal(t, int64(4), s.SessionsTotal)
}

func TestRollingAverageOfSessionDuration(t *testing.T) {
	c := New()
	c.RecordSession(10)
	c.RecordSession(20)
	c.RecordSession(30)

	s := c.Summary()
	require.InDelta(t, 20.0, s.AvgSessionDurationSec, 1e-9)
}

func TestRollingAverageIsZeroWhenEmpty(t *testing.T) {
	c := New()
	s := c.Summary()
	require.Zero(t, s.AvgBackoffSec)
	require.Zero(t, s.AvgDetourCostKWh)
}

func TestStateTransitionCounters(t *testing.T) {
	c := New()
	c.IncConsumerState("searching")
	c.IncConsumerState("searching")
	c.IncPHState("leading")
	c.IncRREHState("serving")

	s := c.Summary()
	require.Equal(t, int64(2), s.ConsumerStateTransitions["searching"])
	require.Equal(t, int64(1), s.PHStateTransitions["leading"])
	require.Equal(t, int64(1), s.RREHStateTransitions["serving"])
}

func TestRetryAndBlacklistCounters(t *testing.T) {
	c := New()
	c.IncRetry()
	c.IncRetry()
	c.IncBlacklistEvent()
	c.RecordBackoff(1.5)
	c.RecordBackoff(2.5)

	s := c.Summary()
	require.Equal(t, int64(2), s.TotalRetries)
	require.Equal(t, int64(1), s.TotalBlacklistEvents)
	require.InDelta(t, 2.0, s.AvgBackoffSec, 1e-9)
}

func TestMPRAndSelectionCounters(t *testing.T) {
	c := New()
	c.IncMPRSelection()
	c.IncMPRForward()
	c.IncMPRForward()
	c.IncRREHSelection()
	c.IncPlatoonSelection()
	c.IncPlatoonSelection()

	s := c.Summary()
	require.Equal(t, int64(1), s.MPRSelections)
	require.Equal(t, int64(2), s.MPRForwards)
	require.Equal(t, int64(1), s.RREHSelections)
	require.Equal(t, int64(2), s.PlatoonSelections)
}

func TestRegistryIsNonNil(t *testing.T) {
	c := New()
	require.NotNil(t, c.Registry())
}
