// Package controlloop owns the driver-station state machine: the 20ms
// outbound send tick, the UDP status receive loop, the 100ms event
// emission tick, the link watchdog, and the safety interlocks around
// Enable/EStop/Mode.
package controlloop

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drivestation/internal/dsstate"
	"drivestation/internal/wire"
)

const (
	sendTickInterval  = 20 * time.Millisecond
	eventTickInterval = 100 * time.Millisecond
	watchdogTimeout   = 1 * time.Second

	// dateTimeTagTicks is how many send ticks elapse between 0x0F
	// DateTime tags: 50 ticks * 20ms = ~1s.
	dateTimeTagTicks = 50

	udpSendPort = 1110
	udpRecvPort = 1150

	commandBufferSize = 64
	eventBufferSize   = 256
	inboundBufferSize = 16
)

// Loop is the driver-station control loop. Only the
// goroutine running Run touches state/status/diag/sequence/tickCount;
// everything else is handed in over channels or the joystick bus.
type Loop struct {
	logger *zap.Logger
	clock  clock.Clock

	commands  chan Command
	events    chan Event
	inbound   chan wire.InboundStatus
	joysticks *joystickBus

	state dsstate.DriverStationState
	status dsstate.RobotStatus
	diag   dsstate.Diagnostics

	sequence  uint16
	tickCount uint32

	lastInboundAt atomic.Int64 // UnixNano of the latest inbound frame; read only while status.Connected

	// send is the outbound transport; overridden in tests to avoid
	// real sockets.
	send func(target string, frame []byte) error
	// listen opens the inbound receive socket; overridden in tests.
	listen func() (net.PacketConn, error)
}

// New constructs a Loop with a real UDP transport. clk and logger may
// be nil, in which case clock.New() and zap.NewNop() are used.
func New(logger *zap.Logger, clk clock.Clock) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	l := &Loop{
		logger:    logger,
		clock:     clk,
		commands:  make(chan Command, commandBufferSize),
		events:    make(chan Event, eventBufferSize),
		inbound:   make(chan wire.InboundStatus, inboundBufferSize),
		joysticks: &joystickBus{},
		state:     dsstate.DriverStationState{TargetAddress: TargetAddressForTeam(0)},
	}
	l.send = l.sendUDP
	l.listen = func() (net.PacketConn, error) {
		return net.ListenPacket("udp", fmt.Sprintf("0.0.0.0:%d", udpRecvPort))
	}
	return l
}

// Events returns the read side of the event channel for subscribers.
func (l *Loop) Events() <-chan Event { return l.events }

// SubmitCommand enqueues a command; if the command channel is full the
// command is dropped and logged rather than blocking the caller.
func (l *Loop) SubmitCommand(cmd Command) {
	select {
	case l.commands <- cmd:
	default:
		l.logger.Warn("command channel full, dropping", zap.String("command", fmt.Sprintf("%T", cmd)))
	}
}

// PublishJoysticks is called by the gamepad manager's polling goroutine
// to hand the send tick a fresh JoystickSnapshot.
func (l *Loop) PublishJoysticks(s dsstate.JoystickSnapshot) {
	l.joysticks.Publish(s)
}

// PublishSystemInfo re-publishes a host-sampled SystemInfo reading as a
// DsEvent; see SPEC_FULL.md's resolution of the SystemInfo Open
// Question. Safe to call from any goroutine.
func (l *Loop) PublishSystemInfo(info dsstate.SystemInfo) {
	l.emit(SystemInfoEvent{Info: info})
}

// PublishConsole, PublishVersion, and PublishPower are called by the
// telemetry reader to forward its decoded records as events. Safe to
// call from any goroutine.
func (l *Loop) PublishConsole(e dsstate.ConsoleEntry) {
	l.emit(ConsoleEvent{Entry: e})
}

func (l *Loop) PublishVersion(v dsstate.VersionInfo) {
	l.emit(VersionInfoEvent{Version: v})
}

func (l *Loop) PublishPower(f dsstate.PowerFaults) {
	l.emit(PowerDataEvent{Faults: f})
}

// PublishGamepadUpdate is called by the gamepad manager to publish a
// UI-facing snapshot, immediately on connect/disconnect and throttled
// to ~10Hz otherwise (the throttling policy lives in the gamepad
// manager, not here). Safe to call from any goroutine.
func (l *Loop) PublishGamepadUpdate(s dsstate.JoystickSnapshot) {
	l.emit(GamepadUpdateEvent{Snapshot: s})
}

// Run drives the control loop until ctx is cancelled. It starts the
// inbound receive goroutine and the command/tick dispatch goroutine and
// waits for both.
func (l *Loop) Run(ctx context.Context) error {
	conn, err := l.listen()
	if err != nil {
		// Unrecoverable: log and keep accepting commands, but
		// transmission-only operation continues without a receive socket.
		l.logger.Error("failed to bind inbound status socket", zap.Error(err))
		return l.mainLoop(ctx)
	}
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.recvLoop(ctx, conn) })
	g.Go(func() error { return l.mainLoop(ctx) })
	return g.Wait()
}

func (l *Loop) recvLoop(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.logger.Debug("inbound udp read error", zap.Error(err))
				return nil
			}
		}
		status, ok := wire.DecodeInbound(buf[:n])
		if !ok {
			continue
		}
		select {
		case l.inbound <- status:
		default:
			l.logger.Debug("inbound status channel full, dropping frame")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		default:
		}
	}
}

func (l *Loop) mainLoop(ctx context.Context) error {
	sendTicker := l.clock.Ticker(sendTickInterval)
	defer sendTicker.Stop()
	eventTicker := l.clock.Ticker(eventTickInterval)
	defer eventTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-l.commands:
			l.applyCommand(cmd)
		case status := <-l.inbound:
			l.applyInbound(status)
		case <-sendTicker.C:
			l.sendTick()
		case <-eventTicker.C:
			l.eventTick()
		}
	}
}

func (l *Loop) applyCommand(cmd Command) {
	switch c := cmd.(type) {
	case SetTeamNumber:
		l.state.TeamNumber = c.Team
		l.state.TargetAddress = TargetAddressForTeam(c.Team)
		l.resetRobotStatus()
	case SetTargetIP:
		l.state.TargetAddress = c.IP
		l.resetRobotStatus()
	case SetMode:
		l.state.Mode = c.Mode
		l.state.Enabled = false
	case Enable:
		if !l.state.EStop && l.status.Connected {
			l.state.Enabled = true
		}
	case Disable:
		l.state.Enabled = false
	case EStop:
		l.state.EStop = true
		l.state.Enabled = false
	case SetAlliance:
		l.state.Alliance = c.Alliance
	case RebootRio:
		l.state.EStop = false
		l.state.Enabled = false
		l.state.RequestReboot = true
	case RestartCode:
		l.state.RequestRestartCode = true
	case SetGameData:
		l.state.GameData = c.Data
	}
}

// resetRobotStatus clears RobotStatus/Diagnostics/the watchdog clock on
// a target-address change.
func (l *Loop) resetRobotStatus() {
	l.status = dsstate.RobotStatus{}
	l.diag = dsstate.Diagnostics{}
	l.lastInboundAt.Store(0)
}

func (l *Loop) applyInbound(s wire.InboundStatus) {
	wasConnected := l.status.Connected
	l.lastInboundAt.Store(l.clock.Now().UnixNano())

	l.status.Connected = true
	l.status.CodeRunning = s.CodeRunning
	l.status.Enabled = s.Enabled
	l.status.EStopped = s.EStopped
	l.status.Brownout = s.Brownout
	l.status.Mode = s.Mode
	l.status.BatteryVoltage = s.Battery
	l.status.SequenceNumber = s.Sequence
	l.diag = s.Diagnostics

	if !wasConnected {
		l.emit(ConnectionStatusEvent{Connected: true})
	}
}

func (l *Loop) sendTick() {
	l.tickCount++
	js := l.joysticks.Load()

	frame := wire.Encode(wire.OutboundFrame{
		Sequence:     l.sequence,
		Mode:         l.state.Mode,
		Enabled:      l.state.Enabled,
		EStop:        l.state.EStop,
		Alliance:     l.state.Alliance,
		Reboot:       l.state.RequestReboot,
		RestartCode:  l.state.RequestRestartCode,
		GameData:     l.state.GameData,
		Joysticks:    js,
		SendDateTime: l.tickCount%dateTimeTagTicks == 0,
		Now:          l.clock.Now().UTC(),
	})

	if err := l.send(l.state.TargetAddress, frame); err != nil {
		l.logger.Debug("outbound udp send failed", zap.Error(err), zap.String("target", l.state.TargetAddress))
	}

	l.sequence++
	// One-shot bits are cleared only after the encode that observed them.
	l.state.RequestReboot = false
	l.state.RequestRestartCode = false

	l.evaluateWatchdog()
}

func (l *Loop) evaluateWatchdog() {
	last := l.lastInboundAt.Load()
	if !l.status.Connected {
		return
	}
	if l.clock.Now().Sub(time.Unix(0, last)) > watchdogTimeout {
		l.status = dsstate.RobotStatus{PacketsLost: l.status.PacketsLost + 1}
		// EStop is intentionally cleared here: a watchdog-triggered link
		// loss allows recovery after a physical power cycle rather than
		// latching the robot disabled forever.
		l.state.Enabled = false
		l.state.EStop = false
		l.emit(ConnectionStatusEvent{Connected: false})
	}
}

func (l *Loop) eventTick() {
	l.emit(RobotStatusEvent{Status: l.status})
	l.emit(DiagnosticsEvent{Diagnostics: l.diag})
}

func (l *Loop) emit(e Event) {
	select {
	case l.events <- e:
	default:
		l.logger.Warn("event channel full, dropping", zap.String("event", fmt.Sprintf("%T", e)))
	}
}

func (l *Loop) sendUDP(target string, frame []byte) error {
	addr := fmt.Sprintf("%s:%d", target, udpSendPort)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(frame)
	return err
}
