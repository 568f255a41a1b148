// Package httpapi is the gin HTTP surface: direct sends, the channel
// webhook, status, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leadbot/internal/hours"
	"leadbot/internal/outreach"
	"leadbot/internal/presence"
	"leadbot/internal/runtime/supervisor"
	logx "leadbot/pkg/logx"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string // "-" disables
	Pprof        PprofConfig

	// WebhookToken guards /webhook/message. Empty leaves the route unmounted.
	WebhookToken string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":3000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	return c
}

// Direct is the one-off send surface.
type Direct interface {
	SendWelcome(ctx context.Context, target, customerName, storeName string) error
	SendNotification(ctx context.Context, phoneRaw, message string) (outreach.NotifyResult, error)
	RelayLog(ctx context.Context, message string) error
}

type Scheduler interface {
	Status() outreach.Status
	Gate() *hours.Gate
}

// Control answers start/stop/status sent over the channel.
type Control interface {
	Allowed(identity string) bool
	Handle(from, body string) (reply string, handled bool)
}

// Replier sends control replies back over the channel.
type Replier interface {
	Send(ctx context.Context, identity, text string) error
}

type Deps struct {
	Direct    Direct
	Scheduler Scheduler
	Presence  func() presence.Snapshot
	Control   Control
	Replier   Replier
	Health    func() supervisor.Snapshot
	Gatherer  prometheus.Gatherer
	Log       logx.Logger
	Now       func() time.Time
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	engine *gin.Engine
	srv    *http.Server
}

func New(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{cfg: cfg, deps: deps, log: deps.Log}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(recovery(s.log), requestLog(s.log), cors())
	s.routes(r)
	s.engine = r

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	if s.deps.Direct != nil {
		r.POST("/send-message", s.sendMessage)
		r.POST("/notification", s.notification)
		r.POST("/logs", s.relayLog)
	}
	if s.deps.Control != nil && s.deps.Replier != nil {
		if tok := strings.TrimSpace(s.cfg.WebhookToken); tok != "" {
			r.POST("/webhook/message", webhookAuth(tok), s.webhook)
		} else {
			s.log.Warn("channel webhook disabled; channel.webhook_token is not set")
		}
	}
	if s.deps.Scheduler != nil {
		r.GET("/status", s.status)
	}
	r.GET("/healthz", s.healthz)

	if s.cfg.MetricsPath != "-" && s.deps.Gatherer != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if s.cfg.Pprof.Enabled {
		if err := mountPprof(r, s.cfg.Addr, s.cfg.Pprof); err != nil {
			s.log.Error("pprof not mounted", logx.Err(err))
		} else {
			s.log.Info("pprof mounted", logx.String("prefix", pprofPrefix), logx.Bool("token_set", s.cfg.Pprof.Token != ""))
		}
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return ctx.Err()
}
