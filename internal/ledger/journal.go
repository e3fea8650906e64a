package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeIssue JournalType = iota
	JournalTypeTransfer
	JournalTypeTicketPurchase
	JournalTypeListingSale
	JournalTypePayout
	JournalTypeRefund
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeIssue:
		return "issue"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeTicketPurchase:
		return "ticket_purchase"
	case JournalTypeListingSale:
		return "listing_sale"
	case JournalTypePayout:
		return "payout"
	case JournalTypeRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups the entries of one command
	EventRef      string      // Request key of the source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountID   // Account receiving debit (balance increases)
	CreditAccount AccountID   // Account receiving credit (balance decreases)
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Logical time of the command
}

// Batch represents the balanced set of journal entries produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves a single positive amount from credit to debit, so every entry
// is balanced by construction and so is the batch.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
