package outbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaygate/relaygate/emitter"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/metrics"
	"github.com/relaygate/relaygate/store"
)

// relay implements the polling publisher side of the transactional outbox:
// it drains pending records, emits them to the broker and stamps them as
// processed once the broker acknowledges.
//
// Delivery is at-least-once by construction. A record is marked processed
// only after a positive delivery report, so a crash between the broker ack
// and the mark causes a duplicate publish on restart. Consumers of these
// events must be idempotent; that is a contract of the platform, not an
// internal detail. For the same reason multiple relay instances may poll the
// same table concurrently without claiming rows.
type relay struct {
	id       uuid.UUID
	settings Settings
	logger   logger.Logger
	emitter  emitter.Emitter
	store    store.Store
	registry *Registry
	metrics  metrics.Factory

	backlog     metrics.Gauge
	mu          sync.Mutex
	successCtrs map[string]metrics.Counter
	failureCtrs map[string]metrics.Counter
}

func newRelay(s Settings, st store.Store, e emitter.Emitter, reg *Registry, l logger.Logger, m metrics.Factory) *relay {
	return &relay{
		id:          uuid.New(),
		settings:    s,
		logger:      l,
		emitter:     e,
		store:       st,
		registry:    reg,
		metrics:     m,
		backlog:     m.Gauge("outbox_backlog", nil),
		successCtrs: make(map[string]metrics.Counter),
		failureCtrs: make(map[string]metrics.Counter),
	}
}

// launch runs the polling loop. The ticker fires on a fixed interval
// independent of how long a cycle takes; a slow cycle just overlaps less.
func (r *relay) launch() {
	r.logger.Debug(fmt.Sprintf("relay '%s' starts polling every %s", r.id, r.settings.PollingInterval))
	ticker := time.NewTicker(r.settings.PollingInterval)
	defer ticker.Stop()
	for ; true; <-ticker.C {
		r.processOutbox()
	}
}

// processOutbox executes a single relay cycle: refresh the backlog gauge,
// fetch a batch of pending records and deliver each of them independently.
// One event's failure never aborts the rest of the batch.
func (r *relay) processOutbox() {
	r.refreshBacklog()

	batch, err := r.store.FindUnprocessed(r.settings.BatchLimit)
	if err != nil {
		r.logger.Error("when fetching pending outbox records", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	r.logger.Debug(fmt.Sprintf("processing %d outbox records", len(batch)))

	var totalSent int
	var totalErr int
	var deliveryChan = make(chan *emitter.DeliveryReport, len(batch))
	var wg sync.WaitGroup

	go func() {
		for dr := range deliveryChan {
			if dr.Error != nil {
				// the record stays unprocessed and is retried next cycle.
				r.logger.Error(fmt.Sprintf("delivery problem for outbox record '%s'", dr.Record.Id), dr.Error)
				r.failureCounter(dr.Record.EventType).Inc(1)
			} else {
				r.logger.Debug(dr.Details)
				if err := r.store.MarkProcessed(dr.Record.Id); err != nil {
					r.logger.Error(fmt.Sprintf("marking outbox record '%s' as processed", dr.Record.Id), err)
				}
				r.successCounter(dr.Record.EventType).Inc(1)
			}
			wg.Done()
		}
		r.logger.Debug("the goroutine for delivery reports has finished")
	}()

	for _, o := range batch {
		reg, err := r.registry.Resolve(o.EventType)
		if err != nil {
			// the record is skipped and remains unprocessed until somebody
			// registers the type; silent dropping is forbidden.
			r.logger.Error(fmt.Sprintf("skipping outbox record '%s'", o.Id), err)
			r.failureCounter(o.EventType).Inc(1)
			totalErr++
			continue
		}
		if _, err := reg.Codec.Decode(o.Payload); err != nil {
			r.logger.Error(fmt.Sprintf("skipping outbox record '%s' with undecodable payload", o.Id), err)
			r.failureCounter(o.EventType).Inc(1)
			totalErr++
			continue
		}

		wg.Add(1)
		if err := r.emitter.Emit(o, reg.Topic, deliveryChan); err != nil {
			// if any error happens sending the message we don't need to retry
			// here, the record will remain in the outbox table and will be
			// sent in the next outbox processing.
			r.logger.Error("when producing a message", err)
			r.failureCounter(o.EventType).Inc(1)
			totalErr++
			wg.Done()
		} else {
			totalSent++
		}
	}

	// Wait until we get all the delivery reports from the broker client.
	wg.Wait()

	// We can safely close the channel because this is a dedicated channel only
	// to receive as many delivery reports as many messages were sent.
	close(deliveryChan)
	r.logger.Info(fmt.Sprintf("%d messages were sent to the broker (with %d skipped or failed) from a total of %d pending outbox records", totalSent, totalErr, len(batch)))
}

func (r *relay) refreshBacklog() {
	count, err := r.store.CountUnprocessed()
	if err != nil {
		r.logger.Error("when counting pending outbox records", err)
		return
	}
	r.backlog.Update(float64(count))
}

func (r *relay) successCounter(eventType string) metrics.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.successCtrs[eventType]
	if !ok {
		c = r.metrics.Counter("outbox_publish_success", map[string]string{"event_type": eventType})
		r.successCtrs[eventType] = c
	}
	return c
}

func (r *relay) failureCounter(eventType string) metrics.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.failureCtrs[eventType]
	if !ok {
		c = r.metrics.Counter("outbox_publish_failure", map[string]string{"event_type": eventType})
		r.failureCtrs[eventType] = c
	}
	return c
}
