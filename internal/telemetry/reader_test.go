package telemetry

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"drivestation/internal/controlloop"
)

func stdoutRecord(msg string) []byte {
	payload := make([]byte, 0, 6+len(msg))
	payload = append(payload, 0, 0, 0, 0) // timestamp, unused by the test
	payload = append(payload, 0, 1)       // seqnum
	payload = append(payload, msg...)
	body := append([]byte{0x0C}, payload...)
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(body)))
	copy(out[2:], body)
	return out
}

func TestReaderConnectsAndDispatchesConsole(t *testing.T) {
	loop := controlloop.New(nil, nil)
	r := New(nil, clock.New(), loop)

	serverConn, clientConn := net.Pipe()
	r.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		return clientConn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		serverConn.Close()
		<-done
	})

	r.SetTarget("roborio-frc.local")

	go func() {
		_, _ = serverConn.Write(stdoutRecord("hello from robot"))
	}()

	select {
	case e := <-loop.Events():
		ev, ok := e.(controlloop.ConsoleEvent)
		require.True(t, ok)
		require.Equal(t, "hello from robot", ev.Entry.Message)
		require.False(t, ev.Entry.IsError)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for console event")
	}

	require.Eventually(t, func() bool {
		return len(r.Recent()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReaderBacksOffOnDialFailure(t *testing.T) {
	loop := controlloop.New(nil, nil)
	mockClock := clock.NewMock()
	r := New(nil, mockClock, loop)

	attempts := make(chan struct{}, 8)
	r.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		attempts <- struct{}{}
		return nil, context.DeadlineExceeded
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	r.SetTarget("roborio-frc.local")

	require.Eventually(t, func() bool {
		select {
		case <-attempts:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		mockClock.Add(connectBackoff)
		require.Eventually(t, func() bool {
			select {
			case <-attempts:
				return true
			default:
				return false
			}
		}, time.Second, time.Millisecond)
	}
}

func TestReaderReconnectsOnAddressChange(t *testing.T) {
	loop := controlloop.New(nil, nil)
	r := New(nil, clock.New(), loop)

	firstServer, firstClient := net.Pipe()
	secondServer, secondClient := net.Pipe()

	dialCount := 0
	r.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		dialCount++
		if dialCount == 1 {
			return firstClient, nil
		}
		return secondClient, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		firstServer.Close()
		secondServer.Close()
		<-done
	})

	r.SetTarget("host-a")
	require.Eventually(t, func() bool { return dialCount >= 1 }, time.Second, time.Millisecond)

	r.SetTarget("host-b")

	go func() {
		_, _ = secondServer.Write(stdoutRecord("from host b"))
	}()

	select {
	case e := <-loop.Events():
		ev, ok := e.(controlloop.ConsoleEvent)
		require.True(t, ok)
		require.Equal(t, "from host b", ev.Entry.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect dispatch")
	}
}
