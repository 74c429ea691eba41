package ratelimit

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowUnderLimit(t *testing.T) {
	l := New(DefaultLimits())
	ip := net.ParseIP("203.0.113.5")
	for i := 0; i < 8; i++ {
		require.True(t, l.Allow(ip, RequestResponse, 1000))
	}
}

func TestAllowTripsTimeout(t *testing.T) {
	l := New(Limits{
		Counter: map[Endpoint]int{RequestResponse: 2},
		Timeout: map[Endpoint]uint32{RequestResponse: 30},
	})
	ip := net.ParseIP("203.0.113.5")
	require.True(t, l.Allow(ip, RequestResponse, 1000))
	require.True(t, l.Allow(ip, RequestResponse, 1000))
	require.False(t, l.Allow(ip, RequestResponse, 1000))
	// still within the timeout window
	require.False(t, l.Allow(ip, RequestResponse, 1010))
	// timeout has elapsed
	require.True(t, l.Allow(ip, RequestResponse, 1031))
}

func TestEndpointsAreIndependent(t *testing.T) {
	l := New(Limits{
		Counter: map[Endpoint]int{RequestResponse: 1, GossipsubBlock: 1},
		Timeout: map[Endpoint]uint32{RequestResponse: 30, GossipsubBlock: 30},
	})
	ip := net.ParseIP("203.0.113.5")
	require.True(t, l.Allow(ip, RequestResponse, 0))
	require.False(t, l.Allow(ip, RequestResponse, 0))
	require.True(t, l.Allow(ip, GossipsubBlock, 0))
}

func TestClearResetsCounterNotTimeout(t *testing.T) {
	l := New(Limits{
		Counter: map[Endpoint]int{RequestResponse: 1},
		Timeout: map[Endpoint]uint32{RequestResponse: 30},
	})
	ip := net.ParseIP("203.0.113.5")
	require.True(t, l.Allow(ip, RequestResponse, 0))
	require.False(t, l.Allow(ip, RequestResponse, 0))
	l.Clear()
	// the timeout is still active even though the counter was cleared
	require.False(t, l.Allow(ip, RequestResponse, 10))
}
