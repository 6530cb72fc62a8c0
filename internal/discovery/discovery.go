// Package discovery resolves an FRC team number to a target network
// address: the simulator loopback for team 0, mDNS resolution of the
// roboRIO's well-known hostname otherwise, with a static-address
// fallback and a last-known-good cache.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	lookupTimeout   = 5 * time.Second
	hostnamePattern = "roboRIO-%d-FRC.local"
)

// Resolver resolves team numbers to target addresses. The zero value is
// not usable; construct with New.
type Resolver struct {
	logger *zap.Logger

	mu       sync.Mutex
	lastGood map[uint32]string

	// lookupIPAddr performs the mDNS/hostname resolution; overridden in
	// tests to avoid a real resolver.
	lookupIPAddr func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// New constructs a Resolver backed by the system resolver. logger may
// be nil.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		logger:       logger.Named("discovery"),
		lastGood:     make(map[uint32]string),
		lookupIPAddr: net.DefaultResolver.LookupIPAddr,
	}
}

// StaticAddress computes the conventional roboRIO address for team
// without attempting any resolution: team 0 is the simulator loopback,
// every other team is 10.<team/100>.<team%100>.2.
func StaticAddress(team uint32) string {
	if team == 0 {
		return "127.0.0.1"
	}
	return fmt.Sprintf("10.%d.%d.2", team/100, team%100)
}

// Resolve returns the best available target address for team. It
// always attempts a fresh mDNS lookup (bounded to 5s) before consulting
// the last-known-good cache or falling back to the static address, so a
// SetTeamNumber always re-resolves rather than trusting a stale cache
// indefinitely.
func (r *Resolver) Resolve(ctx context.Context, team uint32) string {
	if team == 0 {
		return "127.0.0.1"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	host := fmt.Sprintf(hostnamePattern, team)
	addrs, err := r.lookupIPAddr(lookupCtx, host)
	if err != nil {
		r.logger.Debug("mdns lookup failed", zap.Uint32("team", team), zap.String("host", host), zap.Error(err))
	} else if ip, ok := firstIPv4(addrs); ok {
		r.remember(team, ip)
		return ip
	}

	if addr, ok := r.lastKnownGood(team); ok {
		r.logger.Debug("using last-known-good address", zap.Uint32("team", team), zap.String("address", addr))
		return addr
	}
	return StaticAddress(team)
}

func firstIPv4(addrs []net.IPAddr) (string, bool) {
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), true
		}
	}
	return "", false
}

func (r *Resolver) remember(team uint32, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastGood[team] = addr
}

func (r *Resolver) lastKnownGood(team uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.lastGood[team]
	return addr, ok
}
