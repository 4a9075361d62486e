package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckTripsWhenReconnectingTooOftenWithinWindow(t *testing.T) {
	d := NewFlappingDetector(FlappingDetectConfig{
		WindowTime:           time.Minute,
		MaxClientConnections: 3,
		BanTime:              10 * time.Minute,
	})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	require.False(t, d.Check("client-1"))
	require.False(t, d.Check("client-1"))
	require.True(t, d.Check("client-1"))
}

func TestCheckDoesNotTripOnceWindowHasElapsed(t *testing.T) {
	d := NewFlappingDetector(FlappingDetectConfig{
		WindowTime:           time.Minute,
		MaxClientConnections: 2,
		BanTime:              10 * time.Minute,
	})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	d.now = func() time.Time { return cur }

	require.False(t, d.Check("client-1"))
	cur = base.Add(2 * time.Minute)
	require.False(t, d.Check("client-1"))
}

func TestForgetClearsTrackedState(t *testing.T) {
	d := NewFlappingDetector(FlappingDetectConfig{WindowTime: time.Minute, MaxClientConnections: 1, BanTime: time.Minute})
	d.Check("client-1")
	d.Forget("client-1")
	require.NotContains(t, d.seen, "client-1")
}

func TestSweepRemovesExpiredWindows(t *testing.T) {
	d := NewFlappingDetector(FlappingDetectConfig{WindowTime: time.Minute, MaxClientConnections: 5, BanTime: time.Minute})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	d.now = func() time.Time { return cur }

	d.Check("client-1")
	cur = base.Add(2 * time.Minute)
	d.Sweep()
	require.NotContains(t, d.seen, "client-1")
}
