package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"

	"leadbot/internal/app"
	"leadbot/internal/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./leadbot.yaml", "path to config yaml or json")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: env files:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	// no-ops when not started by systemd
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	stopWatchdog := watchdog(ctx, a.Done())

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// the app context derives from ctx, so a signal closes both
	reason := app.StopFatalError
	if ctx.Err() != nil {
		reason = app.StopSignal
	}
	stopWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx or
// done ends.
func watchdog(ctx context.Context, done <-chan struct{}) (stop func()) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}
