package gamepad

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"drivestation/internal/controlloop"
	"drivestation/internal/dsstate"
)

// rawEvent is a transport-agnostic input event: one key press/release
// or one absolute-axis reading.
type rawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// Linux evdev EV_* type codes a device reports events under.
const (
	evKey = 0x01
	evAbs = 0x03
)

// device is the minimal surface the manager needs from one input
// device; evdev_linux.go supplies the real implementation and tests
// supply a fake.
type device interface {
	Name() string
	Path() string
	ReadEvents() ([]rawEvent, error)
	Close() error
}

// enumerator discovers the current set of connected devices on demand.
// The manager diffs this against its tracked set each poll.
type enumerator interface {
	Enumerate() ([]device, error)
}

const (
	pollInterval       = 20 * time.Millisecond
	updateEmitInterval = 100 * time.Millisecond
)

// Manager maintains the ordered set of TrackedGamepad, the
// SlotLockTable, and the published JoystickSnapshot. Polling runs on a
// dedicated goroutine: the evdev backend is a synchronous device
// library, so Manager.Run should be started with runtime.LockOSThread
// by its caller when using the real evdev backend.
type Manager struct {
	logger *zap.Logger
	clock  clock.Clock
	loop   *controlloop.Loop
	enum   enumerator

	locks    *SlotLockTable
	gamepads []*TrackedGamepad
	devices  map[string]device

	lastUpdateEmit time.Time
}

// New constructs a Manager. logger/clk may be nil for defaults.
func New(logger *zap.Logger, clk clock.Clock, loop *controlloop.Loop, enum enumerator) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		logger:  logger,
		clock:   clk,
		loop:    loop,
		enum:    enum,
		locks:   newSlotLockTable(),
		devices: make(map[string]device),
	}
}

// Run polls at ~50Hz until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Manager) closeAll() {
	for _, d := range m.devices {
		_ = d.Close()
	}
}

func (m *Manager) poll() {
	changed := m.reconcileDevices()

	for _, gp := range m.gamepads {
		d, ok := m.devices[gp.Name]
		if !ok {
			continue
		}
		events, err := d.ReadEvents()
		if err != nil {
			m.logger.Debug("gamepad read failed, treating as disconnect", zap.String("name", gp.Name), zap.Error(err))
			m.disconnect(gp.Name)
			changed = true
			continue
		}
		for _, e := range events {
			applyRawEvent(gp, e)
		}
	}

	m.publishSnapshot()

	now := m.clock.Now()
	if changed || now.Sub(m.lastUpdateEmit) >= updateEmitInterval {
		if len(m.gamepads) > 0 || changed {
			m.emitUpdate()
			m.lastUpdateEmit = now
		}
	}
}

// reconcileDevices enumerates the current device set and connects/
// disconnects TrackedGamepad records to match. Returns true if the set
// of tracked gamepads changed.
func (m *Manager) reconcileDevices() bool {
	if m.enum == nil {
		return false
	}
	found, err := m.enum.Enumerate()
	if err != nil {
		m.logger.Debug("gamepad enumeration failed", zap.Error(err))
		return false
	}

	seen := make(map[string]bool, len(found))
	changed := false
	for _, d := range found {
		seen[d.Name()] = true
		if _, tracked := m.devices[d.Name()]; tracked {
			continue
		}
		m.connect(d)
		changed = true
	}

	for name := range m.devices {
		if !seen[name] {
			m.disconnect(name)
			changed = true
		}
	}

	return changed
}

// connect assigns a slot to a newly discovered device: restore a
// locked slot if the name matches, else the lowest unused unlocked
// slot, else append.
func (m *Manager) connect(d device) {
	m.devices[d.Name()] = d

	slot := -1
	if locked, ok := m.locks.LockedSlotFor(d.Name()); ok {
		slot = locked
	} else {
		occupied := make(map[int]bool, len(m.gamepads))
		for _, gp := range m.gamepads {
			occupied[gp.Slot] = true
		}
		for s := 0; s < maxSlots; s++ {
			if occupied[s] {
				continue
			}
			if name, locked := m.locks.IsLocked(s); locked && name != d.Name() {
				continue
			}
			slot = s
			break
		}
	}
	if slot < 0 {
		slot = len(m.gamepads)
	}

	m.gamepads = append(m.gamepads, &TrackedGamepad{
		Name: d.Name(),
		Path: d.Path(),
		Slot: slot,
	})
	m.logger.Info("gamepad connected", zap.String("name", d.Name()), zap.Int("slot", slot))
}

// disconnect removes the device record but retains any locked-slot
// reservation.
func (m *Manager) disconnect(name string) {
	if d, ok := m.devices[name]; ok {
		_ = d.Close()
		delete(m.devices, name)
	}
	for i, gp := range m.gamepads {
		if gp.Name == name {
			m.gamepads = append(m.gamepads[:i], m.gamepads[i+1:]...)
			break
		}
	}
	m.logger.Info("gamepad disconnected", zap.String("name", name))
}

// moveToSlot swaps if both from and to are occupied, moves if to is
// empty, and is a no-op otherwise. Both indices must lie in [0,5].
func (m *Manager) moveToSlot(from, to int) {
	if from < 0 || from >= maxSlots || to < 0 || to >= maxSlots || from == to {
		return
	}
	var fromGp, toGp *TrackedGamepad
	for _, gp := range m.gamepads {
		switch gp.Slot {
		case from:
			fromGp = gp
		case to:
			toGp = gp
		}
	}
	if fromGp == nil {
		return
	}
	if toGp != nil {
		fromGp.Slot, toGp.Slot = to, from
	} else {
		fromGp.Slot = to
	}
}

// LockSlot reserves slot for whatever device currently occupies it.
func (m *Manager) LockSlot(slot int) {
	for _, gp := range m.gamepads {
		if gp.Slot == slot {
			m.locks.Lock(slot, gp.Name)
			return
		}
	}
}

// UnlockSlot releases a reservation.
func (m *Manager) UnlockSlot(slot int) {
	m.locks.Unlock(slot)
}

func applyRawEvent(gp *TrackedGamepad, e rawEvent) {
	switch e.Type {
	case evKey:
		switch e.Code {
		case btnDPadUp:
			gp.dpadUp = e.Value != 0
		case btnDPadDown:
			gp.dpadDown = e.Value != 0
		case btnDPadLeft:
			gp.dpadLeft = e.Value != 0
		case btnDPadRight:
			gp.dpadRight = e.Value != 0
		default:
			if idx, ok := buttonIndexForCode[e.Code]; ok {
				gp.State.Buttons[idx] = e.Value != 0
			} else {
				gp.State.Buttons[ButtonUnknown] = e.Value != 0
			}
		}
	case evAbs:
		applyAbsEvent(gp, e.Code, e.Value)
	}
	gp.State.POV = povFromDpad(gp.dpadUp, gp.dpadRight, gp.dpadDown, gp.dpadLeft)
}

// applyAbsEvent handles the six primary analog axes and the hat-style
// D-pad reported via ABS_HAT0X/ABS_HAT0Y on devices that don't expose
// the D-pad as BTN_DPAD_* key events.
func applyAbsEvent(gp *TrackedGamepad, code uint16, value int32) {
	const (
		absHat0X = 0x10
		absHat0Y = 0x11
	)
	switch code {
	case absHat0X:
		gp.dpadLeft = value < 0
		gp.dpadRight = value > 0
	case absHat0Y:
		gp.dpadUp = value < 0
		gp.dpadDown = value > 0
	case AxisLeftStickX, AxisLeftStickY, AxisLeftZ, AxisRightStickX, AxisRightStickY, AxisRightZ:
		// Raw values are divided by 32767, i.e. read as the signed 16-bit
		// range. The backend (see evdev_linux.go) passes device values
		// through unscaled, so an axis that reports a different min/max
		// is not rescaled to that range; the result is clamped to [-1,1].
		v := dsstate.ClampAxis(float32(value) / 32767)
		gp.State.Axes[code] = v

		// The trigger axes double as analog buttons on most pads: a
		// value above the press threshold latches the button state.
		switch code {
		case AxisLeftZ:
			gp.State.Buttons[ButtonLeftTrigger2] = v > buttonPressThreshold
		case AxisRightZ:
			gp.State.Buttons[ButtonRightTrigger2] = v > buttonPressThreshold
		}
	}
}

func (m *Manager) publishSnapshot() {
	if m.loop == nil {
		return
	}
	joysticks := make([]dsstate.JoystickState, 0, maxSlots)
	for slot := 0; slot < maxSlots; slot++ {
		for _, gp := range m.gamepads {
			if gp.Slot == slot {
				joysticks = append(joysticks, gp.State)
				break
			}
		}
	}
	m.loop.PublishJoysticks(dsstate.JoystickSnapshot{Joysticks: joysticks})
}

func (m *Manager) emitUpdate() {
	if m.loop == nil {
		return
	}
	joysticks := make([]dsstate.JoystickState, 0, len(m.gamepads))
	for _, gp := range m.gamepads {
		joysticks = append(joysticks, gp.State)
	}
	m.loop.PublishGamepadUpdate(dsstate.JoystickSnapshot{Joysticks: joysticks})
}
