package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Log is the process-wide root logger. It discards everything until Init is called.
	Log       = zerolog.Nop()
	logFile   *os.File
	logFormat string
)

// New creates a zerolog logger writing to w.
// Supports console/json format, level filtering, and optional sampling.
func New(w io.Writer, level string, format string, sampler bool) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if sampler {
		logger = logger.Sample(&zerolog.BasicSampler{N: 5})
	}
	return logger
}

// Init initializes the root logger and creates/opens the log file.
// Console output goes to stdout, the file receives json lines.
func Init(logFilePath, level, format string, sampler bool) error {
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	logFormat = format
	Log = New(os.Stdout, level, format, sampler).
		Output(zerolog.MultiLevelWriter(consoleWriter(format), logFile))
	return nil
}

func consoleWriter(format string) io.Writer {
	if format == "json" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// RotateLog truncates the current log file and starts fresh
func RotateLog(logFilePath string) error {
	if logFile != nil {
		logFile.Close()
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	Log = Log.Output(zerolog.MultiLevelWriter(consoleWriter(logFormat), logFile))
	return nil
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Component returns a child logger tagged with the component name
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// Info logs an informational message with optional key/value pairs
func Info(msg string, kv ...interface{}) {
	Log.Info().Fields(kv).Msg(msg)
}

// Error logs an error message with optional key/value pairs
func Error(msg string, kv ...interface{}) {
	Log.Error().Fields(kv).Msg(msg)
}
