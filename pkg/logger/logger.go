package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Config selects output format, level and the optional Sentry sink.
type Config struct {
	Level             string `env:"LOG_LEVEL" envDefault:"info"`
	Format            string `env:"LOG_FORMAT" envDefault:"json"`
	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"production"`
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("level", c.Level),
		slog.String("format", c.Format),
		slog.Bool("sentry", c.SentryDSN != ""),
	)
}

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// New returns a logger writing to w. Sentry is wired in when cfg.SentryDSN is set;
// if the SDK fails to initialise, logging continues without it.
func New(cfg Config, w io.Writer, extractors ...ContextExtractor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	if cfg.SentryDSN != "" {
		sh, err := newSentryHandler(cfg)
		if err != nil {
			slog.New(h).Error("sentry disabled", slog.Any("error", err))
		} else {
			h = fanout{h, sh}
		}
	}

	return slog.New(Decorate(h, extractors...))
}

// NewNope returns a logger that discards everything.
func NewNope() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
