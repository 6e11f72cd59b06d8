package test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"github.com/relaygate/relaygate/emitter"
	"github.com/relaygate/relaygate/metrics"
	"github.com/relaygate/relaygate/store"
	tally "github.com/uber-go/tally/v4"
)

type MockedTallyCounter struct {
	Ctr    int64
	Output chan int64
}

var _ tally.Counter = (*MockedTallyCounter)(nil)

func (c *MockedTallyCounter) Inc(delta int64) {
	c.Ctr += delta
	c.Output <- c.Ctr
}

type MockedTallyGauge struct {
	Output chan float64
}

var _ tally.Gauge = (*MockedTallyGauge)(nil)

func (g *MockedTallyGauge) Update(value float64) {
	g.Output <- value
}

type MockedKafkaProducer struct {
	MockedReportToSend kafka.Event
	Snitch             chan *kafka.Message
	RetVal             error
}

func (p *MockedKafkaProducer) Produce(msg *kafka.Message, internal chan kafka.Event) error {
	// a refused message never reaches the queue and produces no report.
	if p.RetVal != nil {
		return p.RetVal
	}

	// send the message to the outside in order to assert it.
	p.Snitch <- msg

	// send a predefined delivery report to the delivery channel.
	internal <- p.MockedReportToSend

	return nil
}

type MockedKafkaEvent struct{}

func (*MockedKafkaEvent) String() string {
	return "mock"
}

// MockedStore is an in-memory store.Store for relay tests. Records passed in
// Records are served by FindUnprocessed until marked.
type MockedStore struct {
	mu       sync.Mutex
	Records  []*store.Record
	SaveErr  error
	FindErr  error
	MarkErr  error
	CountErr error
}

var _ store.Store = (*MockedStore)(nil)

func (s *MockedStore) Save(ctx context.Context, e *store.Event) (uuid.UUID, error) {
	if s.SaveErr != nil {
		return uuid.Nil, s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &store.Record{
		Id:          uuid.New(),
		AggregateId: e.AggregateId,
		EventType:   e.EventType,
		Payload:     e.Payload,
		CreatedAt:   time.Now(),
	}
	s.Records = append(s.Records, r)
	return r.Id, nil
}

func (s *MockedStore) FindUnprocessed(limit int) ([]*store.Record, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Record
	for _, r := range s.Records {
		if !r.ProcessedAt.Valid {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MockedStore) MarkProcessed(id uuid.UUID) error {
	if s.MarkErr != nil {
		return s.MarkErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Records {
		if r.Id == id && !r.ProcessedAt.Valid {
			r.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
		}
	}
	return nil
}

func (s *MockedStore) CountUnprocessed() (int64, error) {
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, r := range s.Records {
		if !r.ProcessedAt.Valid {
			count++
		}
	}
	return count, nil
}

// Processed returns the ids of the records marked so far.
func (s *MockedStore) Processed() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, r := range s.Records {
		if r.ProcessedAt.Valid {
			out = append(out, r.Id)
		}
	}
	return out
}

// EmittedMessage captures one Emit call on the MockedEmitter.
type EmittedMessage struct {
	Record *store.Record
	Topic  string
}

// MockedEmitter is an emitter.Emitter that reports deliveries synchronously
// from a goroutine, failing the ones whose event type appears in DeliveryErr
// and refusing the ones in ProduceErr.
type MockedEmitter struct {
	mu          sync.Mutex
	Emitted     []EmittedMessage
	ProduceErr  map[string]error
	DeliveryErr map[string]error
}

var _ emitter.Emitter = (*MockedEmitter)(nil)

func (e *MockedEmitter) Emit(r *store.Record, topic string, dc chan *emitter.DeliveryReport) error {
	if err, ok := e.ProduceErr[r.EventType]; ok {
		return err
	}
	e.mu.Lock()
	e.Emitted = append(e.Emitted, EmittedMessage{Record: r, Topic: topic})
	e.mu.Unlock()
	go func() {
		dc <- &emitter.DeliveryReport{
			Record:  r,
			Error:   e.DeliveryErr[r.EventType],
			Details: fmt.Sprintf("delivered record %s to %s", r.Id, topic),
		}
	}()
	return nil
}

// Messages returns a copy of the captured Emit calls.
func (e *MockedEmitter) Messages() []EmittedMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EmittedMessage, len(e.Emitted))
	copy(out, e.Emitted)
	return out
}

// CapturedCounter is a metrics.Counter accumulating increments.
type CapturedCounter struct {
	mu    sync.Mutex
	Value int64
}

var _ metrics.Counter = (*CapturedCounter)(nil)

func (c *CapturedCounter) Inc(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Value += delta
}

func (c *CapturedCounter) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Value
}

// CapturedGauge is a metrics.Gauge remembering the last value.
type CapturedGauge struct {
	mu    sync.Mutex
	Value float64
	Set   bool
}

var _ metrics.Gauge = (*CapturedGauge)(nil)

func (g *CapturedGauge) Update(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Value = value
	g.Set = true
}

func (g *CapturedGauge) Current() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Value, g.Set
}

// CapturingFactory is a metrics.Factory handing out captured instruments
// keyed by name plus tags.
type CapturingFactory struct {
	mu       sync.Mutex
	Counters map[string]*CapturedCounter
	Gauges   map[string]*CapturedGauge
}

var _ metrics.Factory = (*CapturingFactory)(nil)

func NewCapturingFactory() *CapturingFactory {
	return &CapturingFactory{
		Counters: make(map[string]*CapturedCounter),
		Gauges:   make(map[string]*CapturedGauge),
	}
}

func (f *CapturingFactory) Counter(name string, tags map[string]string) metrics.Counter {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := instrumentKey(name, tags)
	c, ok := f.Counters[k]
	if !ok {
		c = &CapturedCounter{}
		f.Counters[k] = c
	}
	return c
}

func (f *CapturingFactory) Gauge(name string, tags map[string]string) metrics.Gauge {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := instrumentKey(name, tags)
	g, ok := f.Gauges[k]
	if !ok {
		g = &CapturedGauge{}
		f.Gauges[k] = g
	}
	return g
}

func instrumentKey(name string, tags map[string]string) string {
	if et, ok := tags["event_type"]; ok {
		return name + "{" + et + "}"
	}
	return name
}
