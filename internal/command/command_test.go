package command_test

import (
	"testing"

	"LotteryLedger/internal/command"
)

func TestParseType_AllNamesRoundTrip(t *testing.T) {
	for _, ty := range command.AllTypes() {
		got, ok := command.ParseType(ty.String())
		if !ok || got != ty {
			t.Errorf("ParseType(%q) = %v, %v", ty.String(), got, ok)
		}
		cmd, ok := command.New(ty)
		if !ok || cmd.Type() != ty {
			t.Errorf("New(%v) returned %T", ty, cmd)
		}
	}
	if _, ok := command.ParseType("withdraw"); ok {
		t.Error("unknown name should not parse")
	}
}

func TestEnvelope_DecodesPayload(t *testing.T) {
	orig := &command.PurchaseTicket{
		Meta:      command.Meta{RequestID: "r-1", Caller: "alice"},
		LotteryID: 3,
		OptionID:  1,
	}
	payload, err := command.Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env := &command.Envelope{Type: command.TypePurchaseTicket, Payload: payload}
	cmd, err := env.Command()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := cmd.(*command.PurchaseTicket)
	if !ok {
		t.Fatalf("decoded %T", cmd)
	}
	if got.Header().Caller != "alice" || got.Header().RequestID != "r-1" || got.LotteryID != 3 || got.OptionID != 1 {
		t.Errorf("unexpected command: %+v", got)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := command.Decode(command.TypeUnknown, []byte("{}")); err == nil {
		t.Error("expected error for unknown type")
	}
}
