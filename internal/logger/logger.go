package logger

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// New builds the process logger. Format "json" writes one JSON object per
// line, "console" writes colored human-readable lines and anything else
// writes plain human-readable lines.
func New(level, format string) *log.Logger {
	var writer log.Writer
	switch format {
	case "json":
		writer = &log.IOWriter{Writer: os.Stdout}
	default:
		writer = &log.ConsoleWriter{
			Writer:         os.Stdout,
			ColorOutput:    format == "console",
			EndWithMessage: true,
		}
	}

	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return &log.Logger{
		Level:  log.ErrorLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}
