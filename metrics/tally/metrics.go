package tally

import (
	"github.com/relaygate/relaygate/metrics"
	tally "github.com/uber-go/tally/v4"
)

type Counter struct {
	Counter tally.Counter
}

var _ metrics.Counter = (*Counter)(nil)

func (c *Counter) Inc(delta int64) {
	c.Counter.Inc(delta)
}

type Gauge struct {
	Gauge tally.Gauge
}

var _ metrics.Gauge = (*Gauge)(nil)

func (g *Gauge) Update(value float64) {
	g.Gauge.Update(value)
}

// Factory mints tally instruments from a scope, using tagged subscopes when
// tags are provided.
type Factory struct {
	Scope tally.Scope
}

var _ metrics.Factory = (*Factory)(nil)

func (f *Factory) Counter(name string, tags map[string]string) metrics.Counter {
	scope := f.Scope
	if len(tags) > 0 {
		scope = scope.Tagged(tags)
	}
	return &Counter{Counter: scope.Counter(name)}
}

func (f *Factory) Gauge(name string, tags map[string]string) metrics.Gauge {
	scope := f.Scope
	if len(tags) > 0 {
		scope = scope.Tagged(tags)
	}
	return &Gauge{Gauge: scope.Gauge(name)}
}
