package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It writes to stderr until Init is called.
var Log = logrus.New()

// Init initializes the logger to write to both stdout and a file
func Init(logDir, level string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(logDir, "querydeck.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	Log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	Log.SetLevel(ParseLevel(level))
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return nil
}

// InitFile sends logs to the file only. The TUI owns the terminal, so it
// cannot share stdout with the logger.
func InitFile(logDir, level string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "querydeck.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	Log.SetOutput(logFile)
	Log.SetLevel(ParseLevel(level))
	return nil
}

func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
