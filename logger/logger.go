// Package logger provides the process-wide logging facility used by every
// storage-layer component. It wraps logrus the way the rest of the engine's
// ambient stack does: one formatter, separate info/error sinks, and a small
// set of package-level helpers so call sites never touch *logrus.Logger
// directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger is the general-purpose (debug-level) sink.
	Logger *logrus.Logger
	// InfoLogger carries lifecycle / catalog events.
	InfoLogger *logrus.Logger
	// ErrorLogger carries statement-level failures.
	ErrorLogger *logrus.Logger
)

func init() {
	// Sane defaults so packages that log before InitLogger runs (tests,
	// demos) don't panic on a nil *logrus.Logger.
	Logger = logrus.New()
	Logger.SetFormatter(&CustomFormatter{})
	Logger.SetOutput(os.Stdout)

	InfoLogger = logrus.New()
	InfoLogger.SetFormatter(&CustomFormatter{})
	InfoLogger.SetOutput(os.Stdout)

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(&CustomFormatter{})
	ErrorLogger.SetOutput(os.Stderr)
}

// LogConfig describes where each sink should write and at what level.
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// CustomFormatter renders "[time] [LEVEL] (file:func:line) message".
type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05 2006/01/02")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", timestamp, level, caller(), entry.Message)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "logger.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// InitLogger (re)configures the package-level sinks. Safe to call more than
// once; later calls replace earlier output targets.
func InitLogger(config LogConfig) error {
	level := parseLevel(config.LogLevel)

	Logger.SetLevel(level)
	InfoLogger.SetLevel(level)
	ErrorLogger.SetLevel(level)

	if config.InfoLogPath != "" {
		f, err := openLogFile(config.InfoLogPath)
		if err != nil {
			InfoLogger.Warnf("failed to open info log %s, falling back to stdout: %v", config.InfoLogPath, err)
		} else {
			InfoLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}
	if config.ErrorLogPath != "" {
		f, err := openLogFile(config.ErrorLogPath)
		if err != nil {
			ErrorLogger.Warnf("failed to open error log %s, falling back to stderr: %v", config.ErrorLogPath, err)
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	}
	Logger.SetOutput(InfoLogger.Out)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func Info(args ...interface{})                 { InfoLogger.Info(args...) }
func Infof(format string, args ...interface{}) { InfoLogger.Infof(format, args...) }
func Debug(args ...interface{})                { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Warnf(format string, args ...interface{}) { Logger.Warnf(format, args...) }
func Error(args ...interface{})                { ErrorLogger.Error(args...) }
func Errorf(format string, args ...interface{}) {
	ErrorLogger.Errorf(format, args...)
}
