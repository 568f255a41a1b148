package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"leadbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Operator OperatorConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// OperatorConfig forwards log lines at or above MinLevel to an operator chat.
type OperatorConfig struct {
	Enabled    bool
	Target     transport.ChatTarget
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks and swaps them on Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file *os.File

	sender     transport.Sender
	queue      chan chatLine
	workerOnce sync.Once
	stopWorker context.CancelFunc
	workerWG   sync.WaitGroup
	dropped    atomic.Uint64

	// guarded by mu
	target   transport.ChatTarget
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

type chatLine struct {
	to  transport.ChatTarget
	msg string
}

// New creates the logging service, applies cfg and returns the root Logger.
// sender may be nil; the operator sink then stays silent.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{
		cfg:    cfg,
		sender: sender,
		queue:  make(chan chatLine, 256),
	}
	s.root.Store(zerolog.New(newConsoleWriter(os.Stdout)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Dropped reports operator lines dropped because the queue was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.stopWorker
	s.stopWorker = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.workerWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = ParseLevel(cfg.Operator.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Operator.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.target = cfg.Operator.Target

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./leadbot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Operator.Enabled {
		s.workerOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.stopWorker = cancel
			s.workerWG.Add(1)
			go func() {
				defer s.workerWG.Done()
				s.drain(ctx)
			}()
		})
		writers = append(writers, &chatWriter{svc: s})
		if s.target.IsZero() {
			fmt.Fprintln(os.Stderr, "logx: operator logging enabled but no log chat is configured")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.queue:
			if s.sender == nil {
				continue
			}
			_, _ = s.sender.SendText(ctx, it.to, it.msg, &transport.SendOptions{DisablePreview: true})
		}
	}
}

func (s *Service) enqueue(to transport.ChatTarget, msg string) {
	// never block the caller's log line
	select {
	case s.queue <- chatLine{to: to, msg: msg}:
	default:
		s.dropped.Add(1)
	}
}
