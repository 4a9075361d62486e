package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsDistinctIDsAndReleaseFreesThem(t *testing.T) {
	a := NewPacketIDAllocator()

	first, err := a.Allocate()
	require.NoError(t, err)
	second, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, 2, a.InFlight())

	a.Release(first)
	require.Equal(t, 1, a.InFlight())
}

func TestAllocateWrapsAroundAndReusesReleasedIDs(t *testing.T) {
	a := NewPacketIDAllocator()
	a.next.Store(65535)

	first, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, uint16(65535), first)

	second, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, uint16(1), second)
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := NewPacketIDAllocator()
	a.maxSize = 3
	for i := 0; i < 3; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
	}
	_, err := a.Allocate()
	require.Error(t, err)
}
