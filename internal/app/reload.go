package app

import (
	"context"
	"strings"

	"leadbot/internal/config"
	"leadbot/internal/outreach"
	"leadbot/internal/phone"
	logx "leadbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig pushes the hot-reloadable sections into running services.
// The validator already accepted next, so mapper errors are not expected;
// a section that still fails keeps its previous value.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogging(next))

	var rt outreach.Runtime
	pc, err := mapPhone(next)
	if err != nil {
		a.log.Warn("invalid phone config; keeping previous", logx.Err(err))
	} else {
		rt.Normalizer = phone.New(pc)
	}
	if gate, err := mapHours(next); err != nil {
		a.log.Warn("invalid hours config; keeping previous", logx.Err(err))
	} else {
		rt.Gate = gate
	}
	if oc, dc, err := mapOutreach(next); err != nil {
		a.log.Warn("invalid outreach config; keeping previous", logx.Err(err))
	} else {
		rt.Config = &oc
		a.pacer.Apply(dc)
	}
	if tmpl, err := mapTemplates(next); err != nil {
		a.log.Warn("invalid messages; keeping previous", logx.Err(err))
	} else {
		rt.Templates = tmpl
	}
	a.orch.Apply(rt)
	a.direct.Apply(rt.Normalizer, rt.Templates, next.Messages.OperatorPhone)
	a.control.SetAllowed(next.Control.AllowedSenders, rt.Normalizer)

	if prc, err := mapPresence(next); err != nil {
		a.log.Warn("invalid presence config; keeping previous", logx.Err(err))
	} else {
		a.verifier.Apply(prc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}
