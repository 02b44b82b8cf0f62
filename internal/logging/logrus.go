package logging

import (
	"fmt"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConsoleOutput is the log path value that keeps logs on stderr.
const ConsoleOutput = "console"

// Init parses and sets the log level and, unless logPath is empty or
// "console", routes output to a rotated log file.
func Init(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", logLevel, err)
	}

	if logPath != "" && logPath != ConsoleOutput {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(level)
	return nil
}

// logrusLogger adapts a logrus entry to the Logger interface.
type logrusLogger struct {
	entry *log.Entry
}

// NewLogrus returns a Logger writing through the standard logrus logger,
// tagged with the given component name.
func NewLogrus(component string) Logger {
	return &logrusLogger{entry: log.WithField("component", component)}
}

// FromEntry wraps an existing logrus entry.
func FromEntry(entry *log.Entry) Logger {
	return &logrusLogger{entry: entry}
}

func (l *logrusLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l *logrusLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l *logrusLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

// with converts alternating key/value pairs into logrus fields. A trailing
// key without a value is recorded under "extra".
func (l *logrusLogger) with(keysAndValues []interface{}) *log.Entry {
	if len(keysAndValues) == 0 {
		return l.entry
	}

	fields := make(log.Fields, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			fields["extra"] = key
			break
		}
		fields[key] = keysAndValues[i+1]
	}
	return l.entry.WithFields(fields)
}
