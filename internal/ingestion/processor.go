package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/observability"
)

// Executor applies a command. Satisfied by *core.Engine.
type Executor interface {
	Execute(cmd command.Command) (*core.Result, error)
}

// Outcome of processing one inbound message.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeRetry     Outcome = "retry"
)

// Processor parses inbound messages and applies them to the core one at a
// time, in arrival order.
type Processor struct {
	exec    Executor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(exec Executor, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		exec:    exec,
		metrics: metrics,
		logger:  logger.With().Str("component", "ingestion").Logger(),
	}
}

// Run drains rawChan until ctx is cancelled or the channel is closed.
func (p *Processor) Run(ctx context.Context, rawChan <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			p.Handle(raw)
		}
	}
}

// Handle processes one message and settles it with the broker. Malformed
// messages are terminated; domain rejections are acked since redelivery
// cannot change the outcome. A message without a request_id is keyed by its
// broker identity so a redelivery is recognised as a duplicate.
func (p *Processor) Handle(raw RawCommand) Outcome {
	t, err := ParseSubject(raw.Subject)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("unroutable message")
		settle(raw.Term)
		p.count("unknown", OutcomeInvalid)
		return OutcomeInvalid
	}
	cmdType := t.String()

	cmd, err := ParseCommand(t, raw.Data)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
		settle(raw.Term)
		p.count(cmdType, OutcomeInvalid)
		return OutcomeInvalid
	}

	if cmd.Header().RequestID == "" && raw.MsgID != "" {
		command.SetRequestID(cmd, raw.MsgID)
	}

	res, err := p.exec.Execute(cmd)
	outcome := OutcomeApplied
	switch {
	case errors.Is(err, errs.ErrUnavailable):
		p.logger.Warn().Err(err).Str("command", cmdType).Msg("command deferred")
		settle(raw.Nak)
		p.count(cmdType, OutcomeRetry)
		return OutcomeRetry
	case errors.Is(err, errs.ErrDuplicateRequest):
		outcome = OutcomeDuplicate
	case err != nil:
		outcome = OutcomeRejected
		p.logger.Info().
			Err(err).
			Str("command", cmdType).
			Str("caller", string(cmd.Header().Caller)).
			Str("request_id", cmd.Header().RequestID).
			Msg("command rejected")
	default:
		p.logger.Debug().Str("command", cmdType).Int64("sequence", res.Sequence).Msg("command applied")
	}
	settle(raw.Ack)

	p.count(cmdType, outcome)
	if p.metrics != nil && !raw.Received.IsZero() {
		p.metrics.IngestToApply.WithLabelValues(cmdType).Observe(time.Since(raw.Received).Seconds())
	}
	return outcome
}

func (p *Processor) count(cmdType string, outcome Outcome) {
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(cmdType, string(outcome)).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
