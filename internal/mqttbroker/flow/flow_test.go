package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInboundAdmitRejectsOverLimit(t *testing.T) {
	in := NewInbound(2)
	require.NoError(t, in.Admit())
	require.NoError(t, in.Admit())
	require.Error(t, in.Admit())

	in.Ack()
	require.NoError(t, in.Admit())
}

func TestOutboundReserveBlocksAtLimit(t *testing.T) {
	out := NewOutbound(1)
	ch, ok := out.Reserve(1)
	require.True(t, ok)
	require.NotNil(t, ch)

	_, ok = out.Reserve(2)
	require.False(t, ok)

	out.Complete(1)
	require.Equal(t, 0, out.Outstanding())

	_, ok = out.Reserve(2)
	require.True(t, ok)
}

func TestOutboundCompleteClosesWaitChannel(t *testing.T) {
	out := NewOutbound(1)
	ch, ok := out.Reserve(5)
	require.True(t, ok)
	out.Complete(5)
	_, open := <-ch
	require.False(t, open)
}
