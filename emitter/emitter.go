package emitter

import "github.com/relaygate/relaygate/store"

// DeliveryReport contains information about an outbox record delivery report.
type DeliveryReport struct {
	Record  *store.Record // record related to the delivery
	Error   error         // error during the delivery if any
	Details string        // more information about the delivery
}

// Emitter defines the contract for emitters of outbox records.
type Emitter interface {
	// Emit sends the information contained in the outbox record to the given
	// broker topic in a reliable way, keyed by the record's aggregate id so
	// the broker preserves per-aggregate ordering. The delivery outcome is
	// reported asynchronously on the provided channel.
	Emit(r *store.Record, topic string, dc chan *DeliveryReport) error
}
