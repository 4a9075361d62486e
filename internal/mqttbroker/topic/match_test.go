package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlainFilter(t *testing.T) {
	f := Parse("sensors/temp")
	require.Equal(t, KindPlain, f.Kind)
	require.Equal(t, "sensors/temp", f.RealTopic)
}

func TestParseSharedFilter(t *testing.T) {
	f := Parse("$share/group-a/sensors/+")
	require.Equal(t, KindShared, f.Kind)
	require.Equal(t, "group-a", f.Group)
	require.Equal(t, "sensors/+", f.RealTopic)
	require.True(t, f.Matches("sensors/temp"))
}

func TestParseExclusiveFilter(t *testing.T) {
	f := Parse("$exclusive/devices/1")
	require.Equal(t, KindExclusive, f.Kind)
	require.Equal(t, "devices/1", f.RealTopic)
}

func TestWildcardMatching(t *testing.T) {
	require.True(t, Parse("sensors/+/temp").Matches("sensors/room1/temp"))
	require.False(t, Parse("sensors/+/temp").Matches("sensors/room1/room2/temp"))
	require.True(t, Parse("sensors/#").Matches("sensors/room1/temp"))
	require.True(t, Parse("sensors/#").Matches("sensors"))
	require.False(t, Parse("sensors/temp").Matches("sensors/humidity"))
}

func TestDollarTopicsExcludedFromWildcardFirstLevel(t *testing.T) {
	require.False(t, Parse("+/temp").Matches("$SYS/temp"))
	require.False(t, Parse("#").Matches("$SYS/broker/uptime"))
	require.True(t, Parse("$SYS/#").Matches("$SYS/broker/uptime"))
}
