package logger

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log is the logging interface used throughout the engine. Every service embeds one so that
// log lines are automatically tagged with the owning subsystem.
type Log interface {
	WithField(name string, value interface{}) Log
	WithFields(fields Fields) Log
	Trace(args ...interface{})
	Tracef(msg string, args ...interface{})
	Debug(args ...interface{})
	Debugf(msg string, args ...interface{})
	Info(args ...interface{})
	Infof(msg string, args ...interface{})
	Warn(args ...interface{})
	Warnf(msg string, args ...interface{})
	Error(args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(msg string, args ...interface{})
}

// Fields is a set of keys/values to include in a structured log message.
type Fields map[string]interface{}

// LogFactory produces a logger for a given subsystem, e.g. "Dispatcher" or "jobs_table".
type LogFactory func(subsystem string) Log

// LogrusLogger is a Log implementation backed by logrus.
type LogrusLogger struct {
	*logrus.Entry
}

func (l *LogrusLogger) WithField(name string, value interface{}) Log {
	return &LogrusLogger{Entry: l.Entry.WithField(name, value)}
}

func (l *LogrusLogger) WithFields(fields Fields) Log {
	return &LogrusLogger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// MakeLogrusLogFactoryStdOut creates a log factory that writes structured, leveled log lines to
// stdout: colourised text when attached to a terminal, JSON lines otherwise (e.g. under a supervisor
// or in a container).
func MakeLogrusLogFactoryStdOut(logRegistry *LogRegistry) LogFactory {
	return func(subsystem string) Log {
		log := logrus.New()
		log.SetLevel(logRegistry.GetLogLevel(subsystem))
		log.SetOutput(os.Stdout)

		if isatty.IsTerminal(os.Stdout.Fd()) {
			log.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
				DisableQuote:    true,
			})
		} else {
			log.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		}
		entry := log.WithFields(logrus.Fields{"system": subsystem})
		logRegistry.RegisterLogger(subsystem, log)
		return &LogrusLogger{Entry: entry}
	}
}

// MakeLogrusLogFactoryToFile creates a log factory that writes to the named file.
func MakeLogrusLogFactoryToFile(logRegistry *LogRegistry, path string) (LogFactory, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening log file: %s", path)
	}
	return func(subsystem string) Log {
		log := logrus.New()
		log.SetLevel(logRegistry.GetLogLevel(subsystem))
		log.SetOutput(file)
		log.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		entry := log.WithFields(logrus.Fields{"system": subsystem})
		logRegistry.RegisterLogger(subsystem, log)
		return &LogrusLogger{Entry: entry}
	}, nil
}

// NoOpLog discards everything. Useful as a default in tests that don't care about log output.
type NoOpLog struct{}

func NewNoOpLog() *NoOpLog { return &NoOpLog{} }

func NoOpLogFactory(subsystem string) Log { return NewNoOpLog() }

func (l *NoOpLog) WithField(name string, value interface{}) Log { return l }
func (l *NoOpLog) WithFields(fields Fields) Log                 { return l }
func (l *NoOpLog) Trace(args ...interface{})                    {}
func (l *NoOpLog) Tracef(msg string, args ...interface{})       {}
func (l *NoOpLog) Debug(args ...interface{})                    {}
func (l *NoOpLog) Debugf(msg string, args ...interface{})       {}
func (l *NoOpLog) Info(args ...interface{})                     {}
func (l *NoOpLog) Infof(msg string, args ...interface{})        {}
func (l *NoOpLog) Warn(args ...interface{})                     {}
func (l *NoOpLog) Warnf(msg string, args ...interface{})        {}
func (l *NoOpLog) Error(args ...interface{})                    {}
func (l *NoOpLog) Errorf(msg string, args ...interface{})       {}
func (l *NoOpLog) Fatal(args ...interface{})                    {}
func (l *NoOpLog) Fatalf(msg string, args ...interface{})       {}
