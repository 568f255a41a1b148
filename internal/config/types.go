package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "4s", "15m").
// String values may reference environment variables as ${NAME}; they are
// expanded before decoding.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`

	Channel ChannelConfig `json:"channel"`
	Backend BackendConfig `json:"backend"`

	Phone    PhoneConfig    `json:"phone"`
	Hours    HoursConfig    `json:"hours"`
	Presence PresenceConfig `json:"presence"`
	Outreach OutreachConfig `json:"outreach"`
	Messages MessagesConfig `json:"messages"`
	Control  ControlConfig  `json:"control"`

	Report  *ReportConfig  `json:"report,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the operator console. Leave token empty to run without it.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

// HTTPConfig controls the inbound HTTP surface.
//
// Defaults:
//   - addr: ":3000"
//   - read_timeout: "10s"
//   - write_timeout: "60s" (a welcome send waits on presence + dispatch)
//   - metrics_path: "/metrics" ("-" disables)
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	MetricsPath  string `json:"metrics_path,omitempty"`

	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig mounts net/http/pprof under /debug/pprof on the HTTP server.
// A non-loopback addr requires token unless allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ChannelConfig points at the messaging gateway that owns the chat session.
type ChannelConfig struct {
	BaseURL  string `json:"base_url"`
	Token    string `json:"token,omitempty"`
	Session  string `json:"session,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	IDSuffix string `json:"id_suffix,omitempty"`

	// WebhookToken is the shared secret the gateway sends with inbound messages.
	WebhookToken string `json:"webhook_token,omitempty"`

	StatePath string `json:"state_path,omitempty"`
	CheckPath string `json:"check_path,omitempty"`
	SendPath  string `json:"send_path,omitempty"`
}

// BackendConfig points at the lead backend.
//
// Two deployments exist: the general queue (fetch_path "/lead/", mark_field
// "lastMessage") and the applications queue (fetch_path
// "/lead/application/without", mark_field "lastMessageApplication").
type BackendConfig struct {
	BaseURL   string `json:"base_url"`
	FetchPath string `json:"fetch_path,omitempty"`
	MarkPath  string `json:"mark_path,omitempty"`
	MarkField string `json:"mark_field,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type PhoneConfig struct {
	CountryCode    string `json:"country_code,omitempty"`
	MarkerPolicy   string `json:"marker_policy,omitempty"` // "keep" | "strip"
	MinDigits      int    `json:"min_digits,omitempty"`
	MaxDigits      int    `json:"max_digits,omitempty"`
	MinLocalDigits int    `json:"min_local_digits,omitempty"`
	MinRawDigits   int    `json:"min_raw_digits,omitempty"`
	Delimiter      string `json:"delimiter,omitempty"`
}

type HoursConfig struct {
	Timezone string `json:"timezone,omitempty"`
	Open     *int   `json:"open,omitempty"`
	Close    *int   `json:"close,omitempty"`
}

// PresenceConfig controls the registration check and its circuit breaker.
//
// failure_threshold: 0 means default (10), negative disables the breaker.
// error_policy: "classify" (transient errors assume reachable) or
// "fail_closed" (every error means unreachable).
type PresenceConfig struct {
	Timeout          string   `json:"timeout,omitempty"`
	FailureThreshold int      `json:"failure_threshold,omitempty"`
	Cooldown         string   `json:"cooldown,omitempty"`
	ErrorPolicy      string   `json:"error_policy,omitempty"`
	TransientErrors  []string `json:"transient_errors,omitempty"`

	// AssumeReachableWhenDisconnected defaults to true when omitted.
	AssumeReachableWhenDisconnected *bool `json:"assume_reachable_when_disconnected,omitempty"`
}

// OutreachConfig controls the cycle scheduler.
//
// quota=1 + max_attempts=1 is single-lead mode.
type OutreachConfig struct {
	Quota       int `json:"quota,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	SuccessCooldown string `json:"success_cooldown,omitempty"`
	RetryDelay      string `json:"retry_delay,omitempty"`
	InitialDelay    string `json:"initial_delay,omitempty"`
	ResumeDelay     string `json:"resume_delay,omitempty"`

	SendDelay   string `json:"send_delay,omitempty"`
	VerifyDelay string `json:"verify_delay,omitempty"`
	LeadDelay   string `json:"lead_delay,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`

	StartPaused bool `json:"start_paused,omitempty"`

	// ContactDedupWindow skips identities contacted within the window.
	// Requires storage; "0s" disables.
	ContactDedupWindow string `json:"contact_dedup_window,omitempty"`
}

// MessagesConfig holds text/template bodies.
//
// Fields available: .Name (outreach), .CustomerName and .StoreName
// (welcome, operator_notice).
type MessagesConfig struct {
	Outreach       string `json:"outreach"`
	Welcome        string `json:"welcome,omitempty"`
	OperatorNotice string `json:"operator_notice,omitempty"`

	// OperatorPhone receives notices and relayed logs over the channel.
	OperatorPhone string `json:"operator_phone,omitempty"`
}

type ControlConfig struct {
	// AllowedSenders restricts start/stop/status over the channel. Empty allows any direct message.
	AllowedSenders []string `json:"allowed_senders,omitempty"`
}

type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron spec, evaluated in hours.timezone
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/leadbot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
