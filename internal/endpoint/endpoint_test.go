package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(e *Endpoint, success bool) *Transition {
	return e.Observe(success, 100*time.Millisecond, "", time.Now())
}

func TestUnhealthyTransitionFiresExactlyOnce(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	observe(e, true)

	var transitions []*Transition
	for i := 0; i < 5; i++ {
		if tr := observe(e, false); tr != nil {
			transitions = append(transitions, tr)
		}
	}

	// Five consecutive failures past a threshold of two: one transition, at
	// the second failure, never again.
	require.Len(t, transitions, 1)
	assert.Equal(t, StateHealthy, transitions[0].From)
	assert.Equal(t, StateUnhealthy, transitions[0].To)
	assert.Equal(t, StateUnhealthy, e.State())
}

func TestRecoveryTransitionFiresExactlyOnce(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	observe(e, false)
	observe(e, false)
	require.Equal(t, StateUnhealthy, e.State())

	var transitions []*Transition
	for i := 0; i < 6; i++ {
		if tr := observe(e, true); tr != nil {
			transitions = append(transitions, tr)
		}
	}

	require.Len(t, transitions, 1)
	assert.Equal(t, StateUnhealthy, transitions[0].From)
	assert.Equal(t, StateHealthy, transitions[0].To)
}

func TestSingleFailureDoesNotFlap(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	observe(e, true)

	assert.Nil(t, observe(e, false))
	assert.Equal(t, StateHealthy, e.State())

	// The success resets the failure streak.
	assert.Nil(t, observe(e, true))
	assert.Nil(t, observe(e, false))
	assert.Equal(t, StateHealthy, e.State())
}

func TestPartialRecoveryResetsStreak(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	observe(e, false)
	observe(e, false)

	observe(e, true)
	observe(e, true)
	assert.Nil(t, observe(e, false))
	assert.Equal(t, StateUnhealthy, e.State())

	// The streak restarts from zero after the interruption.
	observe(e, true)
	observe(e, true)
	tr := observe(e, true)
	require.NotNil(t, tr)
	assert.Equal(t, StateHealthy, tr.To)
}

func TestUnknownResolvesOnFirstSuccess(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	assert.Equal(t, StateUnknown, e.State())

	tr := observe(e, true)
	require.NotNil(t, tr)
	assert.Equal(t, StateUnknown, tr.From)
	assert.Equal(t, StateHealthy, tr.To)
}

func TestAvgResponseTimeIgnoresFailures(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	e.Observe(true, 100*time.Millisecond, "", time.Now())
	e.Observe(false, 5*time.Second, "timeout", time.Now())
	e.Observe(true, 300*time.Millisecond, "", time.Now())

	assert.Equal(t, 200*time.Millisecond, e.AvgResponseTime())
}

func TestRollingWindowBounded(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	for i := 0; i < 200; i++ {
		e.Observe(true, time.Duration(i)*time.Millisecond, "", time.Now())
	}
	assert.LessOrEqual(t, len(e.samples), e.windowSize)

	// Average reflects the most recent window, not the lifetime.
	assert.Greater(t, e.AvgResponseTime(), 150*time.Millisecond)
}

func TestUptimePercentage(t *testing.T) {
	e := New("primary", "https://p.example", "p.netlify.app", 2, 3)
	for i := 0; i < 3; i++ {
		observe(e, true)
	}
	observe(e, false)

	assert.InDelta(t, 75.0, e.Uptime(), 0.01)
}
