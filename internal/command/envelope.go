package command

import (
	"encoding/json"
	"fmt"

	"LotteryLedger/internal/ledger"
)

// Envelope wraps every committed command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Caller-supplied idempotency key (may be empty)
	RequestID string

	// Command type discriminator
	Type Type

	// Account that issued the command
	Caller ledger.AccountID

	// Logical clock reading the command was applied at
	Timestamp int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Encode serializes a command for the command log.
func Encode(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// Decode rebuilds a command from its logged payload.
func Decode(t Type, payload []byte) (Command, error) {
	cmd, ok := New(t)
	if !ok {
		return nil, fmt.Errorf("unknown command type: %d", t)
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return cmd, nil
}

// Command decodes the envelope payload.
func (e *Envelope) Command() (Command, error) {
	return Decode(e.Type, e.Payload)
}
