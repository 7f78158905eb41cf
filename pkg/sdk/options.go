package pagedex

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Engine.
type Option interface {
	apply(*engineConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*engineConfig)

func (f optionFunc) apply(c *engineConfig) { f(c) }

type engineConfig struct {
	configFile    string
	env           string
	documentsRoot string
	workers       int
	watcher       *bool

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithConfigFile reads the configuration from path instead of config/<env>.yaml.
func WithConfigFile(path string) Option {
	return optionFunc(func(c *engineConfig) {
		c.configFile = path
	})
}

// WithEnv selects config/<env>.yaml. Defaults to the ENV variable, then "local".
func WithEnv(env string) Option {
	return optionFunc(func(c *engineConfig) {
		c.env = env
	})
}

// WithDocumentsRoot overrides documents.root.
func WithDocumentsRoot(root string) Option {
	return optionFunc(func(c *engineConfig) {
		c.documentsRoot = root
	})
}

// WithWorkers overrides ingest.workers. It is also the default parallelism
// of Reindex.
func WithWorkers(n int) Option {
	return optionFunc(func(c *engineConfig) {
		c.workers = n
	})
}

// WithWatcher forces the file watcher on or off regardless of the
// configuration. The watcher only runs after Start.
func WithWatcher(enabled bool) Option {
	return optionFunc(func(c *engineConfig) {
		c.watcher = &enabled
	})
}

// WithLogger sets the logger for the engine and SDK operations.
// Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *engineConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *engineConfig) {
		c.metricsReg = reg
	})
}
