package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root logger. In dev mode it logs at debug level through a console writer.
//
// The logger also becomes zerolog's default context logger, so zerolog.Ctx on a context
// without one attached (CLI commands, background work) still reaches it.
func Setup(dev bool) zerolog.Logger {
	return setup(os.Stderr, dev)
}

func setup(w io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	zerolog.DefaultContextLogger = &logger

	return logger
}
