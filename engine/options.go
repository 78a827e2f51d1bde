package engine

import (
	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/pkg/metrics"
	"github.com/ardnew/g2link/protocol"
	"go.uber.org/zap"
)

// Option configures an [Engine].
type Option func(*options)

type options struct {
	slot     patch.Slot
	catalog  patch.Catalog
	logger   *zap.Logger
	metrics  *metrics.Metrics
	recorder protocol.Observer
	protocol protocol.Config
}

// WithSlot selects the patch slot the engine synchronizes. Default SlotA.
func WithSlot(s patch.Slot) Option {
	return func(o *options) { o.slot = s }
}

// WithCatalog sets the module catalog used to decode device modules.
func WithCatalog(c patch.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics of every session the engine opens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder attaches an observer, typically a *recorder.Recorder, that
// sees every message of every session.
func WithRecorder(r protocol.Observer) Option {
	return func(o *options) { o.recorder = r }
}

// WithProtocolConfig sets the session configuration. Its Metrics, Observer
// and OnEvent fields are replaced by the engine's own.
func WithProtocolConfig(cfg protocol.Config) Option {
	return func(o *options) { o.protocol = cfg }
}

func applyDefaultOptions(opts ...Option) options {
	o := options{protocol: protocol.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		o.catalog = patch.DefaultCatalog()
	}
	if o.logger == nil {
		o.logger = pkg.Logger(pkg.ComponentEngine)
	}
	return o
}
