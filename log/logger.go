package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/op/go-logging"
)

type Level logging.Level

// The levels that can be passed to SetLevel and SetModuleLevel.
const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

var levelNames = map[Level]string{
	Debug:   "debug",
	Info:    "info",
	Notice:  "notice",
	Warning: "warning",
	Error:   "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level name (as printed by Level.String) back to a Level.
func ParseLevel(name string) (Level, error) {
	for level, levelName := range levelNames {
		if strings.EqualFold(levelName, name) {
			return level, nil
		}
	}
	return Notice, fmt.Errorf("log: unknown level %q", name)
}

var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

var (
	backendMu      sync.Mutex
	leveledBackend logging.LeveledBackend
	globalLevel    = Notice
	moduleLevels   = map[string]Level{}
)

// The logger interface implemented by all module loggers.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Notice(v ...interface{})
	Noticef(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Create a new logger for the given module.
func New(module string) Logger {
	return logging.MustGetLogger(module)
}

// Override the backend output sink. Level overrides survive a sink change.
func SetSink(sink io.Writer) {
	backendMu.Lock()
	defer backendMu.Unlock()

	backend := logging.NewLogBackend(sink, "", 0)
	backendWithFormatter := logging.NewBackendFormatter(backend, format)
	leveledBackend = logging.AddModuleLevel(backendWithFormatter)
	leveledBackend.SetLevel(toBackendLevel(globalLevel), "")
	for module, level := range moduleLevels {
		leveledBackend.SetLevel(toBackendLevel(level), module)
	}
	logging.SetBackend(leveledBackend)
}

// Set verbosity for all modules without an explicit override.
func SetLevel(level Level) {
	backendMu.Lock()
	defer backendMu.Unlock()

	globalLevel = level
	leveledBackend.SetLevel(toBackendLevel(level), "")
}

// Set verbosity for a single module.
func SetModuleLevel(module string, level Level) {
	backendMu.Lock()
	defer backendMu.Unlock()

	moduleLevels[module] = level
	leveledBackend.SetLevel(toBackendLevel(level), module)
}

// Returns true if messages at the given level are emitted for module.
func IsEnabledFor(module string, level Level) bool {
	backendMu.Lock()
	defer backendMu.Unlock()

	return leveledBackend.IsEnabledFor(toBackendLevel(level), module)
}

func toBackendLevel(level Level) logging.Level {
	switch level {
	case Debug:
		return logging.DEBUG
	case Info:
		return logging.INFO
	case Warning:
		return logging.WARNING
	case Error:
		return logging.ERROR
	}
	return logging.NOTICE
}

func init() {
	SetSink(os.Stdout)
	SetLevel(Notice)
}
