package gcs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabolina/go-gcs/pkg/gcs/core"
	"github.com/jabolina/go-gcs/pkg/gcs/definition"
	"github.com/jabolina/go-gcs/pkg/gcs/types"
)

// Config carries the knobs Create accepts beyond the backend URL: the
// log sink, flow-control watermarks, the Prometheus registerer gauges
// are added to, and the goroutine invoker (tests substitute one that
// tracks outstanding goroutines against goleak).
type Config struct {
	Logger     types.Logger
	Watermarks core.FlowWatermarks
	Registerer prometheus.Registerer
	Invoker    core.Invoker
}

func defaultConfig() Config {
	return Config{
		Logger:     definition.NewDefaultLogger(),
		Watermarks: core.DefaultWatermarks,
		Registerer: nil,
		Invoker:    nil,
	}
}

// Option configures a Conn at Create time.
type Option func(*Config)

// WithLogger overrides the default logrus-backed logger.
func WithLogger(logger types.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithWatermarks overrides the default flow-control pause/resume
// thresholds.
func WithWatermarks(watermarks core.FlowWatermarks) Option {
	return func(c *Config) { c.Watermarks = watermarks }
}

// WithRegisterer routes this connection's metrics gauges into reg
// instead of leaving them unregistered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = reg }
}

// WithInvoker overrides how the delivery worker goroutine is launched.
func WithInvoker(invoker core.Invoker) Option {
	return func(c *Config) { c.Invoker = invoker }
}
