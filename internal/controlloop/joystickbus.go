package controlloop

import (
	"sync"

	"drivestation/internal/dsstate"
)

// joystickBus is the single-writer/single-reader JoystickSnapshot
// handoff between the gamepad manager and the 20ms send tick. The send
// tick must never block on the lock; if a publish is in flight, the
// previous snapshot is reused instead of stalling the outbound frame.
type joystickBus struct {
	mu     sync.RWMutex
	latest dsstate.JoystickSnapshot

	// cached is owned exclusively by the reader goroutine (the send
	// tick); it is never touched under mu.
	cached dsstate.JoystickSnapshot
}

// Publish stores a new snapshot. Called by the gamepad manager's
// polling goroutine.
func (b *joystickBus) Publish(s dsstate.JoystickSnapshot) {
	b.mu.Lock()
	b.latest = s
	b.mu.Unlock()
}

// Load returns the most recent snapshot it can obtain without
// blocking, falling back to the last value it successfully read.
func (b *joystickBus) Load() dsstate.JoystickSnapshot {
	if b.mu.TryRLock() {
		b.cached = b.latest.Clone()
		b.mu.RUnlock()
	}
	return b.cached
}
