// Package config holds small, independently-loadable configuration
// structs shared by the logging and service layers.
package config

// LokiConfig configures an optional Grafana Loki log sink.
type LokiConfig struct {
	Address string            `yaml:"address"`
	Labels  map[string]string `yaml:"labels"`
}

// LogConfig configures the process-wide logger.
type LogConfig struct {
	Formatter string     `yaml:"formatter"`
	Level     string     `yaml:"level"`
	Loki      LokiConfig `yaml:"loki"`
}
