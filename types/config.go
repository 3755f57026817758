package types

import (
	"time"
)

type ConfigManager interface {
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Routes      *RoutesConfig      `yaml:"routes" json:"routes"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections" validate:"min=0"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Type          string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config        interface{}   `yaml:"config" json:"config"`
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Path      string            `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
}

type RoutesConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

type MiddlewaresConfig struct {
	RequestID   *MiddlewareItemConfig `yaml:"request_id" json:"request_id"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
	CORS        *MiddlewareItemConfig `yaml:"cors" json:"cors"`
	Auth        *MiddlewareItemConfig `yaml:"auth" json:"auth"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	Cache       *MiddlewareItemConfig `yaml:"cache" json:"cache"`
}

// MiddlewareItemConfig makes a middleware available by name. Enabled also
// installs it app-wide.
type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}
