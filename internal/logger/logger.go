package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger // Main logger instance

// Options controls where and how application logs are written.
type Options struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text or json
	File   string // empty means stdout
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_FILE.
func OptionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	}
}

// Initialize sets up the logger from the environment
func Initialize() {
	Configure(OptionsFromEnv())
}

// Configure builds the main logger from explicit options.
func Configure(opts Options) {
	l := logrus.New()
	level := parseLevel(opts.Level)
	l.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
			DisableColors:   opts.File != "",
		})
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			fmt.Printf("Failed to create logs directory: %v\n", err)
		} else if f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
		} else {
			out = f
			l.SetReportCaller(true)
		}
	}
	l.SetOutput(out)

	Logger = l

	Logger.WithFields(logrus.Fields{
		"log_level":  level.String(),
		"log_format": formatName(opts.Format),
		"log_file":   opts.File,
	}).Info("Logging system initialized")
}

func parseLevel(s string) logrus.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func formatName(s string) string {
	if strings.EqualFold(s, "json") {
		return "json"
	}
	return "text"
}

// GetLogger returns the configured main logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		Initialize()
	}
	return Logger
}

// WithContext creates a logger with additional context fields
func WithContext(fields map[string]interface{}) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithComponent tags entries with the emitting component.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}

// WithJob creates a logger with analysis job context
func WithJob(jobID string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"job_id":    jobID,
		"component": "executor",
	})
}

// WithLLM creates a logger with LLM client context
func WithLLM(provider, model string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component": "llm",
		"provider":  provider,
		"model":     model,
	})
}

// WithUser creates a logger with user context
func WithUser(userID string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"user_id":   userID,
		"component": "controller",
	})
}

// WithError creates a logger with error context
func WithError(err error, component string) *logrus.Entry {
	fields := logrus.Fields{
		"error":     err.Error(),
		"component": component,
	}

	if GetLogger().GetLevel() >= logrus.DebugLevel {
		fields["stack_trace"] = getStackTrace()
	}

	return GetLogger().WithFields(fields)
}

func getStackTrace() string {
	var stack []string
	for i := 2; i < 10; i++ {
		if pc, file, line, ok := runtime.Caller(i); ok {
			fn := runtime.FuncForPC(pc)
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}
	return strings.Join(stack, "\n")
}

func Debug(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Debug(msg)
}

func Info(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Info(msg)
}

func Warn(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Warn(msg)
}

func Error(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Error(msg)
}

func Fatal(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Fatal(msg)
}
