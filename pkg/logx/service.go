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
)

const defaultLogFile = "./quotecast.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors log lines at or above MinLevel (default warn) into
// the chat Target ("@ops_log" or a numeric id).
type TelegramConfig struct {
	Enabled    bool
	Target     string
	MinLevel   string
	RatePerSec int
}

// Sender is the part of the chat transport the Telegram sink needs.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Service owns the sinks. Loggers obtained from it see every Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	tg   *telegramSink

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service, applies cfg and returns its root logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Level is the minimum level currently written.
func (s *Service) Level() zerolog.Level { return s.current().GetLevel() }

// Apply rebuilds the sinks from cfg. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.tg.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		outs = append(outs, s.tg)
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the Telegram worker and closes the log file.
func (s *Service) Close() error {
	s.tg.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
