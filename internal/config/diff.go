package config

import (
	"reflect"
	"sort"
	"strings"

	logx "leadbot/pkg/logx"
)

// restartSections cannot be applied to a running process.
var restartSections = map[string]bool{
	"telegram": true,
	"http":     true,
	"channel":  true,
	"backend":  true,
	"storage":  true,
	"report":   true,
}

// SummarizeConfigChange returns the changed section names (sorted), safe
// structured attrs for logging (never tokens), and the subset of changed
// sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Channel, newCfg.Channel) {
		changed = append(changed, "channel")
		attrs = append(attrs, logx.String("channel.base_url", newCfg.Channel.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Backend, newCfg.Backend) {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.fetch_path", newCfg.Backend.FetchPath),
			logx.String("backend.mark_field", newCfg.Backend.MarkField),
		)
	}
	if !reflect.DeepEqual(oldCfg.Phone, newCfg.Phone) {
		changed = append(changed, "phone")
		attrs = append(attrs, logx.String("phone.marker_policy", newCfg.Phone.MarkerPolicy))
	}
	if !reflect.DeepEqual(oldCfg.Hours, newCfg.Hours) {
		changed = append(changed, "hours")
		attrs = append(attrs, logx.String("hours.timezone", newCfg.Hours.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Presence, newCfg.Presence) {
		changed = append(changed, "presence")
		attrs = append(attrs,
			logx.Int("presence.failure_threshold", newCfg.Presence.FailureThreshold),
			logx.String("presence.error_policy", newCfg.Presence.ErrorPolicy),
		)
	}
	if !reflect.DeepEqual(oldCfg.Outreach, newCfg.Outreach) {
		changed = append(changed, "outreach")
		attrs = append(attrs,
			logx.Int("outreach.quota", newCfg.Outreach.Quota),
			logx.Int("outreach.max_attempts", newCfg.Outreach.MaxAttempts),
		)
	}
	if !reflect.DeepEqual(oldCfg.Messages, newCfg.Messages) {
		changed = append(changed, "messages")
	}
	if !reflect.DeepEqual(oldCfg.Control, newCfg.Control) {
		changed = append(changed, "control")
		attrs = append(attrs, logx.Int("control.allowed_senders", len(newCfg.Control.AllowedSenders)))
	}
	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		changed = append(changed, "report")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
