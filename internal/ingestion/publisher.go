package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LotteryLedger/internal/core"
	"LotteryLedger/internal/observability"
)

const (
	EventStream        = "LOTTO_LEDGER_EVENTS"
	EventSubjectPrefix = "lotto.ledger.events."
)

// StreamPublisher is the subset of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// LedgerEvent is the outbound notification for one committed command.
type LedgerEvent struct {
	Sequence    int64           `json:"sequence"`
	CommandType string          `json:"command_type"`
	RequestID   string          `json:"request_id,omitempty"`
	Caller      string          `json:"caller"`
	Timestamp   int64           `json:"timestamp"`
	Command     json.RawMessage `json:"command"`
	Result      *core.Result    `json:"result,omitempty"`
	StateHash   string          `json:"state_hash"`
}

// NewLedgerEvent builds the outbound event for a core output.
func NewLedgerEvent(out core.CoreOutput) LedgerEvent {
	env := out.Envelope
	return LedgerEvent{
		Sequence:    env.Sequence,
		CommandType: env.Type.String(),
		RequestID:   env.RequestID,
		Caller:      string(env.Caller),
		Timestamp:   env.Timestamp,
		Command:     json.RawMessage(env.Payload),
		Result:      out.Result,
		StateHash:   hex.EncodeToString(env.StateHash[:]),
	}
}

// EventSubject returns lotto.ledger.events.<command_type>
func (e LedgerEvent) EventSubject() string {
	return EventSubjectPrefix + e.CommandType
}

// OutboundPublisher publishes committed commands for downstream consumers.
// Publishing is best effort: consumers that miss events can read the
// command log directly.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(
	js StreamPublisher,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger.With().Str("component", "publisher").Logger(),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.Publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// Publish sends one output. The sequence doubles as the JetStream message
// id so broker-side dedup discards republished events.
func (op *OutboundPublisher) Publish(ctx context.Context, out core.CoreOutput) error {
	evt := NewLedgerEvent(out)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.EventSubject(), data,
		jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}
