package logger

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/types"
)

// Manager is the service root logger. Every entry carries the service name;
// Named adds the component.
type Manager struct {
	types.Logger
	running atomic.Bool
}

var customLoggerCreators = make(map[string]types.LoggerCreator)

func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	customLoggerCreators[loggerName] = creator
}

func NewManager(config types.ConfigManager) (types.LoggerManager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	if name := config.GetConfig().Name; name != "" {
		logger = With(logger, zap.String("service", name))
	}

	return &Manager{Logger: logger}, nil
}

func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return types.ErrServiceIsRunning
	}
	return nil
}

// Stop flushes buffered entries.
func (m *Manager) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return types.ErrServiceIsNotRunning
	}

	if syncer, ok := m.Logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) Named(component string) types.Logger {
	return With(m.Logger, zap.String("component", component))
}

func createLogger(loggerConfig *types.LoggerConfig) (types.Logger, error) {
	loggerName := "default"
	if loggerConfig.Type != "" {
		loggerName = loggerConfig.Type
	}

	switch loggerName {
	case "default":
		return NewDefaultLogger(loggerConfig)
	case "nop":
		return NewNop(), nil
	default:
		if creator, exists := customLoggerCreators[loggerName]; exists {
			return creator(loggerConfig.Config)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}
