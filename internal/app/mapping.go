package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadbot/internal/channel"
	"leadbot/internal/config"
	"leadbot/internal/dispatch"
	"leadbot/internal/hours"
	"leadbot/internal/httpapi"
	"leadbot/internal/leads"
	"leadbot/internal/outreach"
	"leadbot/internal/phone"
	"leadbot/internal/presence"
	"leadbot/internal/report"
	"leadbot/internal/storage"
	"leadbot/internal/transport"
	"leadbot/internal/transport/telegram"
	logx "leadbot/pkg/logx"
)

// logTarget resolves telegram.group_log into a chat target.
func logTarget(cfg *config.Config) (transport.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return transport.ChatTarget{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return transport.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	target, _ := logTarget(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
			Target:     target,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapPhone(cfg *config.Config) (phone.Config, error) {
	pc := cfg.Phone
	policy, err := phone.ParseMarkerPolicy(pc.MarkerPolicy)
	if err != nil {
		return phone.Config{}, fmt.Errorf("phone.marker_policy: %w", err)
	}
	if pc.MinDigits < 0 || pc.MaxDigits < 0 || pc.MinLocalDigits < 0 || pc.MinRawDigits < 0 {
		return phone.Config{}, errors.New("phone: digit bounds must be >= 0")
	}
	if pc.MinDigits > 0 && pc.MaxDigits > 0 && pc.MinDigits > pc.MaxDigits {
		return phone.Config{}, fmt.Errorf("phone: min_digits %d > max_digits %d", pc.MinDigits, pc.MaxDigits)
	}
	for _, r := range pc.CountryCode {
		if r < '0' || r > '9' {
			return phone.Config{}, fmt.Errorf("phone.country_code: %q is not numeric", pc.CountryCode)
		}
	}
	return phone.Config{
		CountryCode:    pc.CountryCode,
		Policy:         policy,
		MinDigits:      pc.MinDigits,
		MaxDigits:      pc.MaxDigits,
		MinLocalDigits: pc.MinLocalDigits,
		MinRawDigits:   pc.MinRawDigits,
		Delimiter:      pc.Delimiter,
	}, nil
}

func mapHours(cfg *config.Config) (*hours.Gate, error) {
	open, closeAt := 7, 23
	if cfg.Hours.Open != nil {
		open = *cfg.Hours.Open
	}
	if cfg.Hours.Close != nil {
		closeAt = *cfg.Hours.Close
	}
	return hours.Load(strings.TrimSpace(cfg.Hours.Timezone), open, closeAt)
}

func mapPresence(cfg *config.Config) (presence.Config, error) {
	pc := cfg.Presence
	d := presence.DefaultConfig()
	out := presence.Config{
		FailureThreshold:                pc.FailureThreshold,
		TransientErrors:                 d.TransientErrors,
		AssumeReachableWhenDisconnected: d.AssumeReachableWhenDisconnected,
	}
	var err error
	if out.Timeout, err = config.ParseDurationOrDefault("presence.timeout", pc.Timeout, d.Timeout); err != nil {
		return presence.Config{}, err
	}
	if out.Cooldown, err = config.ParseDurationOrDefault("presence.cooldown", pc.Cooldown, d.Cooldown); err != nil {
		return presence.Config{}, err
	}
	if out.ErrorPolicy, err = presence.ParseErrorPolicy(pc.ErrorPolicy); err != nil {
		return presence.Config{}, fmt.Errorf("presence.error_policy: %w", err)
	}
	if len(pc.TransientErrors) > 0 {
		out.TransientErrors = pc.TransientErrors
	}
	if pc.AssumeReachableWhenDisconnected != nil {
		out.AssumeReachableWhenDisconnected = *pc.AssumeReachableWhenDisconnected
	}
	return out, nil
}

// mapOutreach returns the orchestrator and pacer configs.
func mapOutreach(cfg *config.Config) (outreach.Config, dispatch.Config, error) {
	oc := cfg.Outreach
	d := outreach.DefaultConfig()
	if oc.Quota < 0 || oc.MaxAttempts < 0 {
		return outreach.Config{}, dispatch.Config{}, errors.New("outreach: quota and max_attempts must be >= 0")
	}
	if oc.Quota > 0 && oc.MaxAttempts > 0 && oc.MaxAttempts < oc.Quota {
		return outreach.Config{}, dispatch.Config{}, fmt.Errorf("outreach: max_attempts %d < quota %d", oc.MaxAttempts, oc.Quota)
	}

	out := outreach.Config{
		Quota:       oc.Quota,
		MaxAttempts: oc.MaxAttempts,
		StartPaused: oc.StartPaused,
		MarkTimeout: d.MarkTimeout,
	}
	var dc dispatch.Config
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"outreach.success_cooldown", oc.SuccessCooldown, d.SuccessCooldown, &out.SuccessCooldown},
		{"outreach.retry_delay", oc.RetryDelay, d.RetryDelay, &out.RetryDelay},
		{"outreach.initial_delay", oc.InitialDelay, d.InitialDelay, &out.InitialDelay},
		{"outreach.resume_delay", oc.ResumeDelay, d.ResumeDelay, &out.ResumeDelay},
		{"outreach.verify_delay", oc.VerifyDelay, d.VerifyDelay, &out.VerifyDelay},
		{"outreach.lead_delay", oc.LeadDelay, d.LeadDelay, &out.LeadDelay},
		{"outreach.contact_dedup_window", oc.ContactDedupWindow, 0, &out.ContactDedupWindow},
		{"outreach.send_delay", oc.SendDelay, 2 * time.Second, &dc.Delay},
		{"outreach.send_timeout", oc.SendTimeout, 30 * time.Second, &dc.SendTimeout},
	}
	for _, f := range fields {
		v, err := config.ParseDurationOr(f.path, f.raw, f.def)
		if err != nil {
			return outreach.Config{}, dispatch.Config{}, err
		}
		*f.dst = v
	}
	if out.SuccessCooldown == 0 || out.RetryDelay == 0 {
		return outreach.Config{}, dispatch.Config{}, errors.New("outreach: success_cooldown and retry_delay must be > 0")
	}
	return out, dc, nil
}

func mapTemplates(cfg *config.Config) (*outreach.Templates, error) {
	m := cfg.Messages
	t, err := outreach.ParseTemplates(m.Outreach, m.Welcome, m.OperatorNotice)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return t, nil
}

func mapChannel(cfg *config.Config) (channel.Config, error) {
	cc := cfg.Channel
	if strings.TrimSpace(cc.BaseURL) == "" {
		return channel.Config{}, errors.New("channel.base_url is required")
	}
	timeout, err := config.ParseDurationOr("channel.timeout", cc.Timeout, 0)
	if err != nil {
		return channel.Config{}, err
	}
	return channel.Config{
		BaseURL:   cc.BaseURL,
		Token:     cc.Token,
		Session:   cc.Session,
		Timeout:   timeout,
		IDSuffix:  cc.IDSuffix,
		StatePath: cc.StatePath,
		CheckPath: cc.CheckPath,
		SendPath:  cc.SendPath,
	}, nil
}

func mapBackend(cfg *config.Config) (leads.ClientConfig, error) {
	bc := cfg.Backend
	if strings.TrimSpace(bc.BaseURL) == "" {
		return leads.ClientConfig{}, errors.New("backend.base_url is required")
	}
	if bc.MarkPath != "" && !strings.Contains(bc.MarkPath, "{id}") {
		return leads.ClientConfig{}, fmt.Errorf("backend.mark_path %q has no {id} placeholder", bc.MarkPath)
	}
	timeout, err := config.ParseDurationOr("backend.timeout", bc.Timeout, 0)
	if err != nil {
		return leads.ClientConfig{}, err
	}
	return leads.ClientConfig{
		BaseURL:   bc.BaseURL,
		FetchPath: bc.FetchPath,
		MarkPath:  bc.MarkPath,
		MarkField: bc.MarkField,
		Timeout:   timeout,
	}, nil
}

func mapHTTP(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	rt, err := config.ParseDurationOr("http.read_timeout", hc.ReadTimeout, 0)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOr("http.write_timeout", hc.WriteTimeout, 0)
	if err != nil {
		return httpapi.Config{}, err
	}
	mp := strings.TrimSpace(hc.MetricsPath)
	if mp != "" && mp != "-" && !strings.HasPrefix(mp, "/") {
		return httpapi.Config{}, fmt.Errorf("http.metrics_path %q must start with /", mp)
	}
	return httpapi.Config{
		Addr:         hc.Addr,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		MetricsPath:  mp,
		Pprof: httpapi.PprofConfig{
			Enabled:       hc.Pprof.Enabled,
			Token:         hc.Pprof.Token,
			AllowInsecure: hc.Pprof.AllowInsecure,
		},
		WebhookToken: cfg.Channel.WebhookToken,
	}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapReport returns the cron schedule, or "" when the report is off.
func mapReport(cfg *config.Config) (string, error) {
	if cfg.Report == nil || !cfg.Report.Enabled {
		return "", nil
	}
	spec := strings.TrimSpace(cfg.Report.Schedule)
	if spec == "" {
		spec = report.DefaultSchedule
	}
	if err := report.ValidateSchedule(spec); err != nil {
		return "", err
	}
	return spec, nil
}

// Validate runs every mapper so a bad file is rejected as a whole, at
// startup and on hot reload.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := logTarget(cfg); err != nil {
		return err
	}
	checks := []func() error{
		func() error { _, err := mapTelegram(cfg); return err },
		func() error { _, err := mapPhone(cfg); return err },
		func() error { _, err := mapHours(cfg); return err },
		func() error { _, err := mapPresence(cfg); return err },
		func() error { _, _, err := mapOutreach(cfg); return err },
		func() error { _, err := mapTemplates(cfg); return err },
		func() error { _, err := mapChannel(cfg); return err },
		func() error { _, err := mapBackend(cfg); return err },
		func() error { _, err := mapHTTP(cfg); return err },
		func() error { _, _, err := mapStorage(cfg); return err },
		func() error { _, err := mapReport(cfg); return err },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if cfg.Messages.OperatorPhone != "" {
		pc, _ := mapPhone(cfg)
		if _, ok := phone.New(pc).Normalize(cfg.Messages.OperatorPhone); !ok {
			return fmt.Errorf("messages.operator_phone %q does not normalize", cfg.Messages.OperatorPhone)
		}
	}
	return nil
}
