package ingestion

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/event"
	"LockerLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const eventStream = "LOCKER_EVENTS"

// StreamPublisher is the slice of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed events to NATS for downstream
// consumers. It is fed by the persistence worker, so only durable
// operations are published.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishedEvent is the body of one outbound message.
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	Op             string          `json:"op"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	LockerID       uuid.UUID       `json:"locker_id"`
	Index          int             `json:"index"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: downstream consumers can read the event log.
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	msgs, err := Messages(out)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgID := fmt.Sprintf("%d-%d", out.Envelope.Sequence, i)
		if _, err := op.js.Publish(ctx, Subject(m.EventType, m.LockerID), data, jetstream.WithMsgID(msgID)); err != nil {
			return fmt.Errorf("publish %s: %w", msgID, err)
		}
	}
	return nil
}

// Subject builds locker.events.{event_type}.{locker_id}.
func Subject(eventType string, lockerID uuid.UUID) string {
	return fmt.Sprintf("locker.events.%s.%s", eventType, lockerID)
}

// Messages splits an output into one message per emitted event, in
// emission order.
func Messages(out core.CoreOutput) ([]PublishedEvent, error) {
	env := out.Envelope
	msgs := make([]PublishedEvent, 0, len(out.Events))
	for i, e := range out.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		lockerID := e.Locker()
		if lockerID == uuid.Nil {
			lockerID = env.LockerID
		}
		msgs = append(msgs, PublishedEvent{
			Sequence:       env.Sequence,
			Op:             env.Op,
			EventType:      e.EventType().String(),
			IdempotencyKey: env.IdempotencyKey,
			LockerID:       lockerID,
			Index:          i,
			Payload:        payload,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return msgs, nil
}

// eventTypeOf is used by the runner to label outcomes of empty results.
func eventTypeOf(events []event.Event) string {
	if len(events) == 0 {
		return "none"
	}
	return events[0].EventType().String()
}
