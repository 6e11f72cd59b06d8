package kafka

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/relaygate/relaygate/emitter"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/store"
)

// kafkaProducer abstracts the confluent producer for testing purposes.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

type Emitter struct {
	producer kafkaProducer
	logger   logger.Logger
}

var _ emitter.Emitter = (*Emitter)(nil)
var _ logger.Loggable = (*Emitter)(nil)

func New(p kafkaProducer) *Emitter {
	if p == nil || reflect.ValueOf(p).IsNil() {
		panic("producer is mandatory")
	}
	return &Emitter{
		producer: p,
		logger:   &logger.NopLogger{},
	}
}

func (e *Emitter) SetLogger(l logger.Logger) {
	e.logger = l
}

// Emit produces the record to the resolved topic using the aggregate id as
// the message key. The delivery report for the single Produce call is
// forwarded to dc once the broker acknowledges (or rejects) the message.
func (e *Emitter) Emit(o *store.Record, topic string, dc chan *emitter.DeliveryReport) error {
	var internal = make(chan kafka.Event)
	go func() {
		for ev := range internal {
			switch m := ev.(type) {
			case *kafka.Message:
				dc <- &emitter.DeliveryReport{
					Record: o,
					Error:  m.TopicPartition.Error,
					Details: fmt.Sprintf("Delivered message to topic %s [%d] at offset %v\n",
						*m.TopicPartition.Topic, m.TopicPartition.Partition, m.TopicPartition.Offset),
				}
			default:
				e.logger.Debug(fmt.Sprintf("Ignored event: %s", ev))
			}
			// in this case the caller knows that this channel is used only
			// for one Produce call, so it can close it.
			close(internal)
		}
	}()

	err := e.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(o.AggregateId),
		Value:          o.Payload,
		Headers: []kafka.Header{
			{Key: "id", Value: []byte(o.Id.String())},
			{Key: "createdAt", Value: []byte(strconv.FormatInt(o.CreatedAt.UnixMilli(), 10))},
		},
	}, internal)
	if err != nil {
		// the message never reached the producer queue so no delivery report
		// will arrive; release the reading goroutine.
		close(internal)
		return err
	}

	return nil
}
