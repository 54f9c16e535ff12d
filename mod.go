// Package notary defines the logger and the metric collectors shared by the
// packages of the module.
//
// The log level is read from the LLVL environment variable and can be one of
// trace, debug, info, warn or error. It defaults to info.
package notary

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.InfoLevel

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it only prints
// info level and above.
var Logger = zerolog.New(logout).Level(levelFromEnv()).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the collectors of the packages so that a daemon can
// register them to the prometheus registry it serves.
var PromCollectors []prometheus.Collector

// SetLogOutput replaces the destination of the global logger while preserving
// its level.
func SetLogOutput(out zerolog.ConsoleWriter) {
	Logger = Logger.Output(out)
}

func levelFromEnv() zerolog.Level {
	switch os.Getenv(EnvLogLevel) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "":
		return defaultLevel
	default:
		return zerolog.TraceLevel
	}
}
