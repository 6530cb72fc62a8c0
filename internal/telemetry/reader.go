// Package telemetry maintains the long-lived TCP telemetry session to
// the robot (port 1740), decoding console/power/version records and
// handing them to the control loop as events.
package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"drivestation/internal/controlloop"
	"drivestation/internal/dsstate"
	"drivestation/internal/wire"
)

// State is the telemetry reader's connection lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Backoff
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Streaming:
		return "Streaming"
	case Backoff:
		return "Backoff"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

const (
	telemetryPort = 1740

	connectBackoff = 2 * time.Second
	readBackoff    = 1 * time.Second

	consoleHistorySize = 256
)

// Reader owns the TCP telemetry session and console ring buffer. It
// never fails the process: every I/O error is logged and surfaces as a
// state transition.
type Reader struct {
	logger *zap.Logger
	clock  clock.Clock

	loop *controlloop.Loop

	addrCh chan string
	state  State

	faults dsstate.PowerFaults
	recent []dsstate.ConsoleEntry

	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New constructs a Reader that publishes events onto loop. The reader
// has no target until SetTarget supplies one (a host without port).
func New(logger *zap.Logger, clk clock.Clock, loop *controlloop.Loop) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Reader{
		logger: logger,
		clock:  clk,
		loop:   loop,
		addrCh: make(chan string, 1),
		state:  Idle,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// SetTarget changes the telemetry target host; a full channel drops the
// stale pending update since only the most recent address matters.
func (r *Reader) SetTarget(host string) {
	select {
	case r.addrCh <- host:
	default:
		select {
		case <-r.addrCh:
		default:
		}
		r.addrCh <- host
	}
}

// Recent returns up to the last 256 console entries observed, oldest
// first. This is a supplemental convenience not present in the original
// wire protocol (see SPEC_FULL.md).
func (r *Reader) Recent() []dsstate.ConsoleEntry {
	out := make([]dsstate.ConsoleEntry, len(r.recent))
	copy(out, r.recent)
	return out
}

func (r *Reader) recordConsole(e dsstate.ConsoleEntry) {
	r.recent = append(r.recent, e)
	if len(r.recent) > consoleHistorySize {
		r.recent = r.recent[len(r.recent)-consoleHistorySize:]
	}
}

// Run drives the state machine until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) error {
	var host string
	select {
	case host = <-r.addrCh:
	case <-ctx.Done():
		r.state = Terminated
		return nil
	}

	for {
		if ctx.Err() != nil {
			r.state = Terminated
			return nil
		}

		if host == "" {
			select {
			case host = <-r.addrCh:
				continue
			case <-ctx.Done():
				r.state = Terminated
				return nil
			}
		}

		r.state = Connecting
		conn, err := r.dial(ctx, fmt.Sprintf("%s:%d", host, telemetryPort))
		if err != nil {
			r.logger.Debug("telemetry connect failed", zap.Error(err), zap.String("host", host))
			if !r.sleepOrAddressChange(ctx, connectBackoff, &host) {
				r.state = Terminated
				return nil
			}
			continue
		}

		r.state = Streaming
		r.logger.Info("telemetry connected", zap.String("host", host))
		streamErr, addrChanged := r.stream(ctx, conn, &host)
		conn.Close()
		if ctx.Err() != nil {
			r.state = Terminated
			return nil
		}
		if addrChanged {
			// Address change drops straight back to Connecting, no backoff.
			continue
		}
		if streamErr != nil {
			r.logger.Debug("telemetry stream ended", zap.Error(streamErr))
		}

		r.state = Backoff
		if !r.sleepOrAddressChange(ctx, readBackoff, &host) {
			r.state = Terminated
			return nil
		}
	}
}

// stream reads framed records until EOF/error, an address change, or
// shutdown. A non-nil host update via *hostOut signals the caller to
// reconnect against the new target; the second return value reports
// whether that is why stream returned.
func (r *Reader) stream(ctx context.Context, conn net.Conn, hostOut *string) (error, bool) {
	br := bufio.NewReader(conn)
	recCh := make(chan wire.TelemetryRecord, 1)
	errCh := make(chan error, 1)

	go func() {
		for {
			rec, err := wire.ReadTelemetryRecord(br)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case recCh <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case newHost := <-r.addrCh:
			*hostOut = newHost
			return nil, true
		case err := <-errCh:
			return err, false
		case rec := <-recCh:
			r.dispatch(rec)
		}
	}
}

func (r *Reader) dispatch(rec wire.TelemetryRecord) {
	switch {
	case rec.Console != nil:
		r.recordConsole(*rec.Console)
		if r.loop != nil {
			r.loop.PublishConsole(*rec.Console)
		}
	case rec.Version != nil:
		if r.loop != nil {
			r.loop.PublishVersion(*rec.Version)
		}
	case rec.PowerDelta != nil:
		wire.ApplyPowerDelta(&r.faults, rec.PowerDelta)
		if r.loop != nil {
			r.loop.PublishPower(r.faults)
		}
	}
}

// sleepOrAddressChange waits for d, or returns early (true) if the
// target address changes, or returns false if ctx is cancelled first.
func (r *Reader) sleepOrAddressChange(ctx context.Context, d time.Duration, host *string) bool {
	timer := r.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case newHost := <-r.addrCh:
		*host = newHost
		return true
	case <-timer.C:
		return true
	}
}
