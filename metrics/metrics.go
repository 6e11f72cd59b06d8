package metrics

// Counter defines the contract for counters.
type Counter interface {
	// Inc increments the counter by a delta.
	Inc(delta int64)
}

// Gauge defines the contract for gauges.
type Gauge interface {
	// Update sets the current value of the gauge.
	Update(value float64)
}

// Factory mints named instruments, optionally qualified with tags. The relay
// and the idempotency gate use it to create per-event-type counters and the
// backlog depth gauge at runtime.
type Factory interface {
	Counter(name string, tags map[string]string) Counter
	Gauge(name string, tags map[string]string) Gauge
}

type NopCounter struct{}

var _ Counter = (*NopCounter)(nil)

func (*NopCounter) Inc(delta int64) {} //nolint:all

type NopGauge struct{}

var _ Gauge = (*NopGauge)(nil)

func (*NopGauge) Update(value float64) {} //nolint:all

type NopFactory struct{}

var _ Factory = (*NopFactory)(nil)

func (*NopFactory) Counter(name string, tags map[string]string) Counter { return &NopCounter{} }

func (*NopFactory) Gauge(name string, tags map[string]string) Gauge { return &NopGauge{} }
