package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/iancoleman/strcase"
)

var (
	// ErrUnknownEventType is returned by Resolve when nobody registered the
	// stored event type tag. The relay treats this as a per-event failure.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMalformedPayload is returned by codecs when a stored payload does
	// not decode into the registered schema.
	ErrMalformedPayload = errors.New("malformed event payload")
)

// Codec encodes and decodes event payloads for a single event type.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Registration binds an event type tag to its broker topic and payload codec.
type Registration struct {
	EventType string
	Topic     string
	Codec     Codec
}

// Registry is the static mapping from event type tags to (topic, codec)
// pairs. Registration happens at startup; Resolve is called per event by the
// relay.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
	}
}

// Register binds an event type to a topic and codec. An empty topic defaults
// to DefaultTopic(eventType). Registering twice for the same event type or
// with a nil codec is a programming error.
func (r *Registry) Register(eventType string, topic string, c Codec) {
	if eventType == "" {
		panic("eventType is mandatory")
	}
	if c == nil {
		panic("codec is mandatory")
	}
	if topic == "" {
		topic = DefaultTopic(eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[eventType]; ok {
		panic(fmt.Sprintf("event type '%s' is already registered", eventType))
	}
	r.entries[eventType] = Registration{
		EventType: eventType,
		Topic:     topic,
		Codec:     c,
	}
}

// Resolve returns the registration for the event type or ErrUnknownEventType.
func (r *Registry) Resolve(eventType string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[eventType]
	if !ok {
		return Registration{}, fmt.Errorf("%w: '%s'", ErrUnknownEventType, eventType)
	}
	return reg, nil
}

// DefaultTopic builds a topic name from an event type (e.g. if
// eventType="StockAdjusted" then the topic name is "outbox-stock-adjusted").
func DefaultTopic(eventType string) string {
	return fmt.Sprintf("outbox-%s", strcase.ToKebab(eventType))
}

// JSONCodec validates payloads against a per-event-type schema by decoding
// them into a fresh instance produced by newValue.
type JSONCodec struct {
	newValue func() any
}

var _ Codec = (*JSONCodec)(nil)

// JSON builds a codec for a JSON-encoded event schema. newValue must return a
// pointer to a zero value of the schema type (e.g. func() any { return
// &StockAdjusted{} }).
func JSON(newValue func() any) *JSONCodec {
	if newValue == nil {
		panic("newValue is mandatory")
	}
	return &JSONCodec{newValue: newValue}
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	v := c.newValue()
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}
