package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-turbo/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Value
	mu          sync.Mutex
	loadTimeout time.Duration
}

// NewConfigurationManager loads configPath and fails if it is missing or
// invalid.
func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := newManager(ctx)
	cm.configPath = configPath

	if err := cm.Load(); err != nil {
		cm.cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager serves an in-memory config. Unset sections take their
// defaults.
func NewStaticManager(ctx context.Context, config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := newManager(ctx)

	if config == nil {
		config = cm.loader.Defaults()
	}

	if err := cm.loader.Validate(config); err != nil {
		cm.cancel()
		return nil, err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParserFromConfig(config))

	return cm, nil
}

func newManager(ctx context.Context) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)
	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateRunning) {
		return types.ErrServiceIsRunning
	}
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	cm.setState(StateStopped)
	cm.cancel()
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

// Load rereads the file. The previous config stays in place on failure.
func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, raw, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(raw))

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) GetAllPaths() []string {
	parser := cm.parser.Load()
	if parser == nil {
		return nil
	}
	return parser.GetAllPaths()
}

func (cm *ConfigurationManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *ConfigurationManager) setState(newState State) {
	cm.state.Store(newState)
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}
