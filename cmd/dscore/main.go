// Command dscore is the driver-station core process: it drives the
// control loop, telemetry reader, and gamepad manager and wires them
// together against a resolved robot target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drivestation/internal/controlloop"
	"drivestation/internal/discovery"
	"drivestation/internal/dsconfig"
	"drivestation/internal/gamepad"
	"drivestation/internal/hostmetrics"
	"drivestation/internal/telemetry"
)

var (
	team        = flag.Uint("team", 0, "FRC team number (0 = simulator loopback)")
	targetIP    = flag.String("target-ip", "", "override the resolved target address")
	enableHost  = flag.Bool("host-metrics", true, "sample and publish host CPU/RAM usage")
	development = flag.Bool("dev", false, "use zap's development logging config")
)

func main() {
	flag.Parse()

	logger, err := buildLogger(*development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := dsconfig.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *team != 0 {
		cfg.TeamNumber = uint32(*team)
	}
	if *targetIP != "" {
		cfg.TargetIP = *targetIP
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := controlloop.New(logger.Named("controlloop"), nil)
	reader := telemetry.New(logger.Named("telemetry"), nil, loop)
	gamepads := gamepad.New(logger.Named("gamepad"), nil, loop, gamepad.NewLinuxEnumerator())
	resolver := discovery.New(logger.Named("discovery"))

	target := resolveInitialTarget(ctx, logger, resolver, cfg)
	loop.SubmitCommand(controlloop.SetTeamNumber{Team: cfg.TeamNumber})
	if target != controlloop.TargetAddressForTeam(cfg.TeamNumber) {
		loop.SubmitCommand(controlloop.SetTargetIP{IP: target})
	}
	reader.SetTarget(target)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return reader.Run(ctx) })
	g.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		return gamepads.Run(ctx)
	})
	g.Go(func() error { return logEvents(ctx, logger.Named("events"), loop) })

	if *enableHost {
		producer := hostmetrics.New(logger.Named("hostmetrics"), nil, loop)
		g.Go(func() error { return producer.Run(ctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("driver station exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// resolveInitialTarget honors an explicit target-IP override, otherwise
// resolves the configured team number once at startup ("resolution
// runs once per explicit team change").
func resolveInitialTarget(ctx context.Context, logger *zap.Logger, resolver *discovery.Resolver, cfg dsconfig.Config) string {
	if cfg.TargetIP != "" {
		return cfg.TargetIP
	}
	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	target := resolver.Resolve(resolveCtx, cfg.TeamNumber)
	logger.Info("resolved target address", zap.Uint32("team", cfg.TeamNumber), zap.String("target", target))
	return target
}

// logEvents drains the control loop's event channel so it never fills;
// a real dashboard would subscribe here instead.
func logEvents(ctx context.Context, logger *zap.Logger, loop *controlloop.Loop) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-loop.Events():
			if !ok {
				return nil
			}
			logEvent(logger, ev)
		}
	}
}

func logEvent(logger *zap.Logger, ev controlloop.Event) {
	switch e := ev.(type) {
	case controlloop.ConnectionStatusEvent:
		logger.Info("connection status changed", zap.Bool("connected", e.Connected))
	case controlloop.ConsoleEvent:
		logger.Info("console", zap.Bool("error", e.Entry.IsError), zap.String("message", e.Entry.Message))
	case controlloop.PowerDataEvent:
		logger.Debug("power faults", zap.Any("faults", e.Faults))
	case controlloop.VersionInfoEvent:
		logger.Info("version info", zap.Any("version", e.Version))
	case controlloop.RobotStatusEvent, controlloop.DiagnosticsEvent, controlloop.GamepadUpdateEvent, controlloop.SystemInfoEvent:
		// High-frequency telemetry; a real dashboard subscribes to these
		// instead of logging every tick.
	}
}
