package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/core"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ingestion"
	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/testutil"
)

type settled struct{ ack, nak, term int }

func raw(subject string, data []byte, s *settled) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject: subject,
		Data:    data,
		Ack:     func() { s.ack++ },
		Nak:     func() { s.nak++ },
		Term:    func() { s.term++ },
	}
}

func TestProcessor_Outcomes(t *testing.T) {
	c, _ := testutil.NewEngine()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	p := ingestion.NewProcessor(c, metrics, zerolog.Nop())

	var s settled
	claim := mustJSON(t, map[string]interface{}{"caller": "alice", "request_id": "r1"})

	if got := p.Handle(raw("lotto.cmd.claim_points", claim, &s)); got != ingestion.OutcomeApplied {
		t.Fatalf("first claim: %s", got)
	}
	if !c.HasClaimed("alice") {
		t.Fatal("claim not applied")
	}

	// same request id returns the cached result
	if got := p.Handle(raw("lotto.cmd.claim_points", claim, &s)); got != ingestion.OutcomeApplied {
		t.Errorf("retry: %s", got)
	}

	second := mustJSON(t, map[string]interface{}{"caller": "alice", "request_id": "r2"})
	if got := p.Handle(raw("lotto.cmd.claim_points", second, &s)); got != ingestion.OutcomeRejected {
		t.Errorf("second claim: %s", got)
	}

	if got := p.Handle(raw("lotto.cmd.withdraw", claim, &s)); got != ingestion.OutcomeInvalid {
		t.Errorf("unknown subject: %s", got)
	}
	if got := p.Handle(raw("lotto.cmd.settle", []byte("{"), &s)); got != ingestion.OutcomeInvalid {
		t.Errorf("bad payload: %s", got)
	}

	if s.ack != 3 || s.term != 2 || s.nak != 0 {
		t.Errorf("settlement: %+v", s)
	}
	if v := promtest.ToFloat64(metrics.IngestMessages.WithLabelValues("claim_points", "rejected")); v != 1 {
		t.Errorf("rejected counter = %v", v)
	}
	if v := promtest.ToFloat64(metrics.IngestMessages.WithLabelValues("settle", "invalid")); v != 1 {
		t.Errorf("invalid counter = %v", v)
	}
}

func TestProcessor_RunPreservesOrder(t *testing.T) {
	c, _ := testutil.NewEngine()
	p := ingestion.NewProcessor(c, nil, zerolog.Nop())

	var s settled
	in := make(chan ingestion.RawCommand, 4)
	in <- raw("lotto.cmd.claim_points", mustJSON(t, map[string]interface{}{"caller": "alice"}), &s)
	in <- raw("lotto.cmd.transfer", mustJSON(t, map[string]interface{}{"caller": "alice", "to": "bob", "amount": "2.5"}), &s)
	close(in)

	if err := p.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.BalanceOf("bob") != 2_500_000 {
		t.Errorf("bob = %d", c.BalanceOf("bob"))
	}
	if c.GetSequence() != 2 {
		t.Errorf("sequence = %d", c.GetSequence())
	}
}

func TestProcessor_RedeliveryWithoutRequestIDAppliesOnce(t *testing.T) {
	c, _ := testutil.NewEngine()
	testutil.Fund(t, c, "alice")
	p := ingestion.NewProcessor(c, nil, zerolog.Nop())

	var s settled
	transfer := mustJSON(t, map[string]interface{}{"caller": "alice", "to": "bob", "amount": "2.5"})
	msg := raw("lotto.cmd.transfer", transfer, &s)
	msg.MsgID = "js:LOTTO_COMMANDS:7"

	if got := p.Handle(msg); got != ingestion.OutcomeApplied {
		t.Fatalf("first delivery: %s", got)
	}
	seq := c.GetSequence()
	if got := p.Handle(msg); got != ingestion.OutcomeApplied {
		t.Fatalf("redelivery: %s", got)
	}
	if c.BalanceOf("bob") != 2_500_000 {
		t.Errorf("bob = %d, transfer applied twice", c.BalanceOf("bob"))
	}
	if c.GetSequence() != seq {
		t.Errorf("redelivery committed sequence %d", c.GetSequence())
	}
	if s.ack != 2 {
		t.Errorf("settlement: %+v", s)
	}

	// a distinct message with the same body is a new transfer
	next := raw("lotto.cmd.transfer", transfer, &s)
	next.MsgID = "js:LOTTO_COMMANDS:8"
	if got := p.Handle(next); got != ingestion.OutcomeApplied {
		t.Fatalf("second message: %s", got)
	}
	if c.BalanceOf("bob") != 5_000_000 {
		t.Errorf("bob = %d", c.BalanceOf("bob"))
	}
}

type unavailableExec struct{}

func (unavailableExec) Execute(command.Command) (*core.Result, error) {
	return nil, errs.Wrap(errs.ErrUnavailable, "request check failed")
}

func TestProcessor_UnavailableIsRedelivered(t *testing.T) {
	p := ingestion.NewProcessor(unavailableExec{}, nil, zerolog.Nop())

	var s settled
	claim := mustJSON(t, map[string]interface{}{"caller": "alice", "request_id": "r1"})
	if got := p.Handle(raw("lotto.cmd.claim_points", claim, &s)); got != ingestion.OutcomeRetry {
		t.Fatalf("outcome: %s", got)
	}
	if s.nak != 1 || s.ack != 0 || s.term != 0 {
		t.Errorf("settlement: %+v", s)
	}
}

// ============================================================================
// Outbound
// ============================================================================

type fakeStream struct {
	subjects []string
	payloads [][]byte
}

func (f *fakeStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return &jetstream.PubAck{Sequence: uint64(len(f.subjects))}, nil
}

func TestOutboundPublisher(t *testing.T) {
	outputs := make(chan core.CoreOutput, 8)
	c := core.NewEngine(core.Options{Resolver: testutil.Resolver, Clock: core.NewManualClock(testutil.StartTime)}, outputs, nil, nil, nil)
	testutil.Fund(t, c, "alice")
	close(outputs)

	stream := &fakeStream{}
	pub := ingestion.NewOutboundPublisher(stream, outputs, nil, zerolog.Nop())
	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"lotto.ledger.events.claim_points",
		"lotto.ledger.events.approve",
		"lotto.ledger.events.approve",
	}
	if len(stream.subjects) != len(want) {
		t.Fatalf("published %v", stream.subjects)
	}
	for i := range want {
		if stream.subjects[i] != want[i] {
			t.Errorf("subject %d: got %s, want %s", i, stream.subjects[i], want[i])
		}
	}

	var evt ingestion.LedgerEvent
	if err := json.Unmarshal(stream.payloads[0], &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Sequence != 1 || evt.Caller != "alice" || evt.Result == nil || evt.Result.Amount != core.DefaultFaucetAmount {
		t.Errorf("event = %+v", evt)
	}
	if len(evt.StateHash) != 64 {
		t.Errorf("state hash = %q", evt.StateHash)
	}

	var cmd command.ClaimPoints
	if err := json.Unmarshal(evt.Command, &cmd); err != nil || cmd.Caller != "alice" {
		t.Errorf("command = %+v, %v", cmd, err)
	}
}
