// Package app wires configuration into the outreach services and runs them
// under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"leadbot/internal/channel"
	"leadbot/internal/config"
	"leadbot/internal/control"
	"leadbot/internal/dispatch"
	"leadbot/internal/eventbus"
	"leadbot/internal/httpapi"
	"leadbot/internal/leads"
	"leadbot/internal/metrics"
	"leadbot/internal/outreach"
	"leadbot/internal/phone"
	"leadbot/internal/presence"
	"leadbot/internal/report"
	"leadbot/internal/runtime/supervisor"
	"leadbot/internal/storage"
	"leadbot/internal/transport"
	"leadbot/internal/transport/telegram"
	logx "leadbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gateway  *channel.Gateway
	verifier *presence.Verifier
	pacer    *dispatch.Pacer
	orch     *outreach.Orchestrator
	direct   *outreach.Direct
	control  *control.Handler

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tally    *report.Tally
	reporter *report.Reporter
	http     *httpapi.Server

	adapter *telegram.Adapter // nil without a bot token
	console *telegram.Console
	updates chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &App{cfgm: cfgm, bus: eventbus.New(), updates: make(chan transport.Message, 64)}

	// The adapter exists before the log service so the operator sink can use it.
	var sender transport.Sender
	if tc, _ := mapTelegram(cfg); tc.Token != "" {
		boot := logx.NewConsole("INFO").Component("telegram")
		ad, err := telegram.New(tc, boot)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter, sender = ad, ad
	}
	a.logs, a.log = logx.New(mapLogging(cfg), sender)
	comp := a.log.Component

	if sc, enabled, _ := mapStorage(cfg); enabled {
		st, err := storage.Open(sc, a.log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	chCfg, _ := mapChannel(cfg)
	if a.gateway, err = channel.New(chCfg); err != nil {
		return nil, err
	}
	backend, _ := mapBackend(cfg)
	source, err := leads.NewClient(backend)
	if err != nil {
		return nil, err
	}

	pc, _ := mapPhone(cfg)
	norm := phone.New(pc)
	gate, err := mapHours(cfg)
	if err != nil {
		return nil, err
	}
	prc, _ := mapPresence(cfg)
	a.verifier = presence.New(a.gateway, prc, presence.WithLogger(comp("presence")))
	oc, dc, _ := mapOutreach(cfg)
	a.pacer = dispatch.NewPacer(a.gateway, dc, comp("dispatch"))
	tmpl, err := mapTemplates(cfg)
	if err != nil {
		return nil, err
	}

	a.orch, err = outreach.New(oc, outreach.Deps{
		Source:     source,
		Gate:       gate,
		Normalizer: norm,
		Verifier:   a.verifier,
		Pacer:      a.pacer,
		Templates:  tmpl,
		Store:      a.store,
		Bus:        a.bus,
		Log:        comp("outreach"),
	})
	if err != nil {
		return nil, err
	}
	a.direct = outreach.NewDirect(a.gateway, a.verifier, a.pacer, norm, tmpl, cfg.Messages.OperatorPhone, comp("direct"))
	a.control = control.New(a.orch, cfg.Control.AllowedSenders, norm, comp("control"))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
	metrics.RegisterProbes(a.registry, metrics.Probes{
		Paused:     a.orch.Paused,
		Presence:   a.verifier.Snapshot,
		BusDropped: a.bus.Dropped,
		LogDropped: a.logs.Dropped,
	})

	if spec, _ := mapReport(cfg); spec != "" {
		var sum report.Summarizer = a.store
		if a.store == nil {
			a.tally = report.NewTally(0)
			sum = a.tally
		}
		if a.reporter, err = report.New(spec, gate.Location(), sum, a.notifyOperator, comp("report")); err != nil {
			return nil, err
		}
	}

	hc, _ := mapHTTP(cfg)
	a.http = httpapi.New(hc, httpapi.Deps{
		Direct:    a.direct,
		Scheduler: a.orch,
		Presence:  a.verifier.Snapshot,
		Control:   a.control,
		Replier:   a.gateway,
		Health:    a.Health,
		Gatherer:  a.registry,
		Log:       comp("http"),
	})

	if a.adapter != nil {
		a.console = telegram.NewConsole(a.adapter, a.control, cfg.Telegram.OwnerUserIDs, comp("console"))
	}
	return a, nil
}

// notifyOperator sends text to the telegram log chat, falling back to the
// operator phone over the channel.
func (a *App) notifyOperator(ctx context.Context, text string) error {
	if a.adapter != nil {
		if target, _ := logTarget(a.cfgm.Get()); !target.IsZero() {
			_, err := a.adapter.SendText(ctx, target, text, &transport.SendOptions{ParseMode: "Markdown", DisablePreview: true})
			return err
		}
	}
	return a.direct.RelayLog(ctx, text)
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Health merges the app and telegram supervisors for /healthz.
func (a *App) Health() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	snap := a.sup.Snapshot()
	if a.adapter != nil {
		if s := a.adapter.Supervisor(); s != nil {
			as := s.Snapshot()
			snap.Tasks = append(snap.Tasks, as.Tasks...)
			if snap.FirstError == "" {
				snap.FirstError = as.FirstError
			}
		}
	}
	return snap
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.Component("supervisor")),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.GoRestart("telegram.console", func(c context.Context) error {
			return a.console.Run(c, a.updates)
		})
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("metrics.events", func(c context.Context) {
		defer unsub()
		a.metrics.Consume(c, events)
	})
	if a.tally != nil {
		tevents, tunsub := a.bus.Subscribe(64)
		a.sup.Go0("report.tally", func(c context.Context) {
			defer tunsub()
			a.tally.Consume(c, tevents)
		})
	}
	if a.reporter != nil {
		a.sup.Go("report.cron", a.reporter.Run)
	}

	a.sup.GoRestart("outreach.loop", a.orch.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	a.sup.Go("http.server", a.http.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("window", a.orch.Gate().Window()),
		logx.Bool("paused", a.orch.Paused()),
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// loops, the http server and the cron unwind from here
	a.sup.Cancel()

	// step bounds one shutdown step by max and the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.adapter != nil {
		step("telegram", 3*time.Second, a.adapter.Stop)
	}
	// the orchestrator finishes its current lead before Run returns
	step("supervisor", 20*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
