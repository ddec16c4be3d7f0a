package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger. format is "console" for human output or "json".
// An unknown level falls back to info and is reported as an error.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	var err error
	lvl := zerolog.InfoLevel
	if level != "" {
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || lvl == zerolog.NoLevel {
			err = fmt.Errorf("invalid log level %q, using info", level)
			lvl = zerolog.InfoLevel
		}
	}

	out := w
	switch strings.ToLower(format) {
	case "json":
	case "", "console", "text":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	default:
		if err == nil {
			err = fmt.Errorf("invalid log format %q, using console", format)
		}
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), err
}
