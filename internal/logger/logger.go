// Package logger configures the global zerolog logger from command line or
// environment options.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Logger struct {
	Level   string `long:"log-level"    env:"LOG_LEVEL"    description:"Log level (trace, debug, info, warn, error)" default:"info"`
	Format  string `long:"log-format"   env:"LOG_FORMAT"   description:"Log format (text, json)"                     default:"text"`
	Output  string `long:"log-output"   env:"LOG_OUTPUT"   description:"Log output (stdout, stderr)"                 default:"stderr"`
	NoColor bool   `long:"log-no-color" env:"LOG_NO_COLOR" description:"Disable colors in text output"`
}

// Setup replaces the global logger.
func (l Logger) Setup() {
	log.Logger = l.New()
}

// New builds a logger without touching the global one.
func (l Logger) New() zerolog.Logger {
	return l.build(l.writer())
}

func (l Logger) writer() io.Writer {
	if strings.EqualFold(l.Output, "stdout") {
		return os.Stdout
	}
	return os.Stderr
}

func (l Logger) build(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(l.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if !strings.EqualFold(l.Format, "json") {
		w = zerolog.ConsoleWriter{Out: w, NoColor: l.NoColor, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
