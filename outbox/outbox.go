package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/relaygate/relaygate/emitter"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/metrics"
	"github.com/relaygate/relaygate/store"
)

// Outbox implements the transactional outbox module: reliable capture of
// domain events inside the caller's business transaction, with an optional
// background relay that drains them to the broker.
type Outbox struct {
	logger   logger.Logger
	emitter  emitter.Emitter
	store    store.Store
	registry *Registry
	metrics  metrics.Factory
}

// Option allows optional configuration.
type Option func(o *Outbox)

// WithLogger allows clients to configure an optional logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Outbox) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics allows clients to configure an optional metrics factory
// for observability.
func WithMetrics(m metrics.Factory) Option {
	return func(o *Outbox) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an Outbox using the provided settings and options and the
// provided Store, Emitter and Registry implementations. When the relay is
// enabled in the settings a single polling loop is started for this process.
func New(s Settings, st store.Store, e emitter.Emitter, reg *Registry, options ...Option) *Outbox {
	if st == nil || e == nil || reg == nil {
		panic("you must provide a store, an emitter and a registry")
	}

	validateSettings(&s)

	o := &Outbox{
		logger:   &logger.NopLogger{},
		emitter:  e,
		store:    st,
		registry: reg,
		metrics:  &metrics.NopFactory{},
	}

	for _, opt := range options {
		opt(o)
	}

	for _, a := range []any{e, st} {
		if l, ok := a.(logger.Loggable); ok {
			l.SetLogger(o.logger)
		}
	}

	if s.EnableRelay {
		o.logger.Debug("the polling publisher relay is enabled")
		r := newRelay(s, o.store, o.emitter, o.registry, o.logger, o.metrics)
		go r.launch()
	}

	return o
}

// Publish records a domain event reliably within a business transaction,
// utilizing the polling publisher variant of the Transactional Outbox
// pattern. It returns the generated event id.
func (o *Outbox) Publish(ctx context.Context, e *store.Event) (uuid.UUID, error) {
	return o.store.Save(ctx, e)
}
