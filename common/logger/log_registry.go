package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultLogLevel = logrus.InfoLevel

var levelMap = map[string]logrus.Level{
	"trace": logrus.TraceLevel,
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
	"fatal": logrus.FatalLevel,
	"panic": logrus.PanicLevel,
}

// LogLevelConfig is a comma-separated "subsystem=level" list, e.g. "Dispatcher=debug,jobs_table=trace".
type LogLevelConfig string

// LogRegistry tracks the configured log level for each subsystem and the loggers that were
// created for it, so that levels can be queried (and in future, changed) at runtime.
type LogRegistry struct {
	loggerBySubsystem map[string]*logrus.Logger
	levelBySubsystem  map[string]logrus.Level
	mu                sync.Mutex
}

func NewLogRegistry(config LogLevelConfig) (*LogRegistry, error) {
	r := &LogRegistry{
		loggerBySubsystem: make(map[string]*logrus.Logger),
		levelBySubsystem:  make(map[string]logrus.Level),
	}
	if config == "" {
		return r, nil
	}
	for _, pair := range strings.Split(string(config), ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("error invalid log level format: %v", pair)
		}
		level, ok := levelMap[strings.ToLower(parts[1])]
		if !ok {
			return nil, fmt.Errorf("error invalid log level for %q: %v", parts[0], parts[1])
		}
		r.levelBySubsystem[parts[0]] = level
	}
	return r, nil
}

// GetLogLevel returns the configured log level for the specified subsystem, or the default.
func (r *LogRegistry) GetLogLevel(subsystem string) logrus.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level, ok := r.levelBySubsystem[subsystem]; ok {
		return level
	}
	return defaultLogLevel
}

func (r *LogRegistry) RegisterLogger(subsystem string, logger *logrus.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loggerBySubsystem[subsystem] = logger
}
