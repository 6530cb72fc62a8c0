package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTeamZeroReturnsLoopback(t *testing.T) {
	r := New(nil)
	require.Equal(t, "127.0.0.1", r.Resolve(context.Background(), 0))
}

func TestResolveUsesMDNSWhenAvailable(t *testing.T) {
	r := New(nil)
	r.lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		require.Equal(t, "roboRIO-254-FRC.local", host)
		return []net.IPAddr{{IP: net.ParseIP("10.2.54.2")}}, nil
	}
	require.Equal(t, "10.2.54.2", r.Resolve(context.Background(), 254))
}

func TestResolveFallsBackToStaticOnLookupError(t *testing.T) {
	r := New(nil)
	r.lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return nil, errors.New("no such host")
	}
	require.Equal(t, "10.2.54.2", r.Resolve(context.Background(), 254))
}

func TestResolvePrefersLastKnownGoodOverStaticOnTransientFailure(t *testing.T) {
	r := New(nil)
	calls := 0
	r.lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		calls++
		if calls == 1 {
			return []net.IPAddr{{IP: net.ParseIP("10.2.54.7")}}, nil
		}
		return nil, errors.New("mdns timeout")
	}

	require.Equal(t, "10.2.54.7", r.Resolve(context.Background(), 254))
	require.Equal(t, "10.2.54.7", r.Resolve(context.Background(), 254))
	require.Equal(t, 2, calls, "a transient failure still re-attempts the lookup instead of skipping straight to cache")
}

func TestResolveSkipsIPv6OnlyResults(t *testing.T) {
	r := New(nil)
	r.lookupIPAddr = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("fe80::1")}}, nil
	}
	require.Equal(t, "10.2.54.2", r.Resolve(context.Background(), 254))
}

func TestStaticAddress(t *testing.T) {
	require.Equal(t, "127.0.0.1", StaticAddress(0))
	require.Equal(t, "10.2.54.2", StaticAddress(254))
	require.Equal(t, "10.11.18.2", StaticAddress(1118))
}
