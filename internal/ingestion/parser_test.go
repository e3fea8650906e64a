package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ingestion"
	fpmath "LotteryLedger/internal/math"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParseSubject(t *testing.T) {
	cases := map[string]command.Type{
		"lotto.cmd.purchase_ticket":         command.TypePurchaseTicket,
		"lotto.cmd.buy_at_best_price":       command.TypeBuyAtBestPrice,
		"lotto.cmd.create_lottery.region-a": command.TypeCreateLottery,
	}
	for subject, want := range cases {
		got, err := ingestion.ParseSubject(subject)
		if err != nil {
			t.Errorf("%s: %v", subject, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", subject, got, want)
		}
	}

	for _, bad := range []string{"lotto.cmd.draw", "lotto.ledger.events.settle", "lotto.cmd."} {
		if _, err := ingestion.ParseSubject(bad); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestCommandSubject_RoundTrip(t *testing.T) {
	for _, typ := range command.AllTypes() {
		got, err := ingestion.ParseSubject(ingestion.CommandSubject(typ))
		if err != nil || got != typ {
			t.Errorf("%s: got %s, %v", typ, got, err)
		}
	}
}

func TestParseCreateLottery(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"request_id":       "req-7",
		"caller":           "alice",
		"name":             "NBA Finals",
		"options":          []string{"Lakers", "Warriors"},
		"ticket_price":     "10",
		"duration_seconds": 604800,
	})

	cmd, err := ingestion.ParseCommand(command.TypeCreateLottery, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	c, ok := cmd.(*command.CreateLottery)
	if !ok {
		t.Fatalf("expected *command.CreateLottery, got %T", cmd)
	}
	if c.TicketPrice != fpmath.Points(10) {
		t.Errorf("ticket_price: got %d, want %d", c.TicketPrice, fpmath.Points(10))
	}
	if c.Duration != 604800 {
		t.Errorf("duration: got %d", c.Duration)
	}
	if c.Caller != "alice" || c.RequestID != "req-7" {
		t.Errorf("meta: got %+v", c.Meta)
	}
	if len(c.Options) != 2 {
		t.Errorf("options: got %v", c.Options)
	}
}

func TestParseListTicket_DecimalPrice(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{"caller": "alice", "token_id": 3, "price": "15.5"})

	cmd, err := ingestion.ParseCommand(command.TypeListTicket, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := cmd.(*command.ListTicket)
	if l.Price != 15_500_000 {
		t.Errorf("price: got %d, want 15500000", l.Price)
	}
	if l.TokenID != 3 {
		t.Errorf("token_id: got %d", l.TokenID)
	}
}

func TestParseSharedShapes(t *testing.T) {
	lo := mustJSON(t, map[string]interface{}{"caller": "bob", "lottery_id": 2, "option_id": 1})
	if cmd, err := ingestion.ParseCommand(command.TypeBuyAtBestPrice, lo); err != nil {
		t.Fatalf("buy_at_best_price: %v", err)
	} else if b := cmd.(*command.BuyAtBestPrice); b.LotteryID != 2 || b.OptionID != 1 {
		t.Errorf("buy_at_best_price: got %+v", b)
	}

	li := mustJSON(t, map[string]interface{}{"caller": "bob", "listing_id": 9})
	if cmd, err := ingestion.ParseCommand(command.TypeCancelListing, li); err != nil {
		t.Fatalf("cancel_listing: %v", err)
	} else if c := cmd.(*command.CancelListing); c.ListingID != 9 {
		t.Errorf("cancel_listing: got %+v", c)
	}

	mint := mustJSON(t, map[string]interface{}{"caller": "resolver", "to": "carol", "amount": "0.000001"})
	if cmd, err := ingestion.ParseCommand(command.TypeMintPoints, mint); err != nil {
		t.Fatalf("mint_points: %v", err)
	} else if m := cmd.(*command.MintPoints); m.Amount != 1 || m.To != "carol" {
		t.Errorf("mint_points: got %+v", m)
	}

	approve := mustJSON(t, map[string]interface{}{"caller": "alice", "token_id": 4, "spender": "carol"})
	if cmd, err := ingestion.ParseCommand(command.TypeApproveTicket, approve); err != nil {
		t.Fatalf("approve_ticket: %v", err)
	} else if a := cmd.(*command.ApproveTicket); a.TokenID != 4 || a.Spender != "carol" {
		t.Errorf("approve_ticket: got %+v", a)
	}

	claim := mustJSON(t, map[string]interface{}{"caller": "dave"})
	if cmd, err := ingestion.ParseCommand(command.TypeClaimPoints, claim); err != nil {
		t.Fatalf("claim_points: %v", err)
	} else if cmd.Type() != command.TypeClaimPoints {
		t.Errorf("claim_points: got %s", cmd.Type())
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		typ  command.Type
		data []byte
	}{
		{"malformed json", command.TypeSettle, []byte(`{"caller":`)},
		{"missing caller", command.TypeSettle, mustJSON(t, map[string]interface{}{"lottery_id": 1})},
		{"missing amount", command.TypeApprove, mustJSON(t, map[string]interface{}{"caller": "a", "spender": "system:lottery"})},
		{"float garbage", command.TypeTransfer, mustJSON(t, map[string]interface{}{"caller": "a", "to": "b", "amount": "1e"})},
		{"too precise", command.TypeListTicket, mustJSON(t, map[string]interface{}{"caller": "a", "token_id": 1, "price": "1.0000001"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tc.typ, tc.data)
			if !errors.Is(err, errs.ErrInvalidArgument) {
				t.Errorf("expected invalid_argument, got %v", err)
			}
		})
	}
}
