package wallet

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return Info, nil
	case "debug":
		return Debug, nil
	case "disable":
		return Disable, nil
	default:
		return Info, fmt.Errorf("invalid log level '%v'", level)
	}
}

type Config struct {
	// HTTPTimeout applies to every mint request. Zero means no timeout.
	HTTPTimeout time.Duration
	LogLevel    LogLevel
	// Logger overrides LogLevel when set.
	Logger  *slog.Logger
	Metrics *Metrics
	// NOTE: used in tests to point at fake mints
	HTTPClient *http.Client
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	switch c.LogLevel {
	case Disable:
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	case Debug:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.HTTPTimeout}
}
