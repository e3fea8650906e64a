// Package core is the deterministic command processor. Every command is applied
// under a single lock as one all-or-nothing transaction against the ledger,
// ownership, lottery and market stores. Committed commands get a global sequence
// number, extend the state hash chain and are emitted for persistence and
// projections.
package core

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"LotteryLedger/internal/command"
	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/lottery"
	"LotteryLedger/internal/market"
	"LotteryLedger/internal/observability"
	"LotteryLedger/internal/ownership"
	"LotteryLedger/internal/settlement"
	"LotteryLedger/internal/txn"
)

const (
	DefaultFaucetAmount        = 1000 * 1_000_000
	DefaultIdempotencyCapacity = 100_000

	// global zero-sum check interval, in commands
	globalCheckInterval = 1000
)

// Options configure an Engine.
type Options struct {
	Resolver            ledger.AccountID
	FaucetAmount        int64
	IdempotencyCapacity int
	Clock               Clock
	Logger              *zerolog.Logger
}

// Engine is the serialized command processor
type Engine struct {
	mu sync.Mutex

	sequence  int64 // next sequence to assign
	hasher    *StateHasher
	clock     Clock
	resolver  ledger.AccountID
	faucet    int64
	claimed   map[ledger.AccountID]bool
	balances  *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	owners    *ownership.Registry
	lotteries *lottery.Registry
	market    *market.Market
	settler   *settlement.Engine

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one committed command.
type CoreOutput struct {
	Envelope *command.Envelope
	Batch    *ledger.Batch // nil when no points moved
	Result   *Result
}

// Result is the typed outcome of a command. Only the fields relevant to the
// command type are set.
type Result struct {
	Sequence int64               `json:"sequence"`
	Lottery  *lottery.Lottery    `json:"lottery,omitempty"`
	Ticket   *lottery.Ticket     `json:"ticket,omitempty"`
	Listing  *market.Listing     `json:"listing,omitempty"`
	Payouts  []settlement.Payout `json:"payouts,omitempty"`
	Amount   int64               `json:"amount,omitempty"`
}

// NewEngine creates an empty engine. persistChan and projectionChan may be nil.
func NewEngine(
	opts Options,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.FaucetAmount <= 0 {
		opts.FaucetAmount = DefaultFaucetAmount
	}
	if opts.IdempotencyCapacity <= 0 {
		opts.IdempotencyCapacity = DefaultIdempotencyCapacity
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	balances := ledger.NewBalanceTracker()
	owners := ownership.NewRegistry()
	lotteries := lottery.NewRegistry(balances, owners)
	mkt := market.New(balances, owners, lotteries)

	return &Engine{
		sequence:       1,
		hasher:         NewStateHasher(),
		clock:          opts.Clock,
		resolver:       opts.Resolver,
		faucet:         opts.FaucetAmount,
		claimed:        make(map[ledger.AccountID]bool),
		balances:       balances,
		validator:      ledger.NewInvariantValidator(balances),
		owners:         owners,
		lotteries:      lotteries,
		market:         mkt,
		settler:        settlement.NewEngine(balances, lotteries, mkt, opts.Resolver),
		idempotency:    NewIdempotencyChecker(opts.IdempotencyCapacity, dbChecker, metrics),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Execute applies one command at the current clock reading.
func (c *Engine) Execute(cmd command.Command) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(cmd, c.clock.Now(), nil)
}

// Replay re-applies a logged command at its recorded time and verifies that it
// reproduces the logged sequence and state hash. Replayed commands are not
// re-emitted to the persist channel.
func (c *Engine) Replay(env *command.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay sequence mismatch: log=%d core=%d", env.Sequence, c.sequence)
	}
	cmd, err := env.Command()
	if err != nil {
		return err
	}
	if _, err := c.apply(cmd, env.Timestamp, env); err != nil {
		return fmt.Errorf("replay seq %d (%s): %w", env.Sequence, env.Type, err)
	}
	if c.metrics != nil {
		c.metrics.ReplayCommandsTotal.Inc()
	}
	return nil
}

// apply is the processing pipeline. replayed is non-nil during recovery.
func (c *Engine) apply(cmd command.Command, now int64, replayed *command.Envelope) (*Result, error) {
	start := time.Now()
	cmdType := cmd.Type().String()
	meta := cmd.Header()

	// Step 1: idempotency (skipped on replay; the log is already deduplicated)
	if meta.RequestID != "" && replayed == nil {
		cached, hit := c.idempotency.Check(cmdType, meta.Caller, meta.RequestID)
		switch hit {
		case dedupLRU:
			return cached, nil
		case dedupDB:
			c.reject(cmdType, "duplicate")
			return nil, errs.Wrap(errs.ErrDuplicateRequest, "request %s", meta.RequestID)
		case dedupUnavailable:
			c.reject(cmdType, errs.KindUnavailable.String())
			return nil, errs.Wrap(errs.ErrUnavailable, "cannot check request %s", meta.RequestID)
		}
	}

	// Step 2: dispatch inside a transaction
	tx := txn.Begin()
	res, err := c.dispatch(tx, cmd, now)
	if err != nil {
		tx.Rollback()
		c.balances.DiscardPending()
		c.reject(cmdType, errs.KindOf(err).String())
		c.logger.Debug().
			Str("command", cmdType).
			Str("caller", string(meta.Caller)).
			Err(err).
			Msg("command rejected")
		return nil, err
	}
	tx.Commit()

	// Step 3: journal batch
	seq := c.sequence
	eventRef := meta.RequestID
	if eventRef == "" {
		eventRef = fmt.Sprintf("seq:%d", seq)
	}
	batch := c.balances.TakeBatch(eventRef, seq, now)
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
	}

	// Step 4: post-checks
	if err := c.postCheckInvariants(cmd, res, seq); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: envelope and hash chain
	payload, err := command.Encode(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode committed command: %v", err))
	}
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(seq, c.computeStateDigest(cmd.Type(), meta.Caller, payload, batch))

	if replayed != nil && replayed.StateHash != stateHash {
		panic(fmt.Sprintf("FATAL: state hash mismatch on replay at seq %d", seq))
	}

	envelope := &command.Envelope{
		Sequence:  seq,
		RequestID: meta.RequestID,
		Type:      cmd.Type(),
		Caller:    meta.Caller,
		Timestamp: now,
		Payload:   payload,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
	c.sequence++
	res.Sequence = seq

	// Step 6: emit
	if replayed == nil {
		c.emit(CoreOutput{Envelope: envelope, Batch: batch, Result: res})
	}

	// Step 7: mark processed
	if meta.RequestID != "" {
		c.idempotency.MarkProcessed(meta.Caller, meta.RequestID, res)
	}

	if c.metrics != nil {
		c.metrics.CommandsApplied.WithLabelValues(cmdType).Inc()
		c.metrics.CommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(seq))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	return res, nil
}

// emit sends to the persist channel (blocking, backpressure) and to the
// projection channel (non-blocking, dropped when full).
func (c *Engine) emit(out CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- out
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

func (c *Engine) reject(cmdType, reason string) {
	if c.metrics != nil {
		c.metrics.CommandsRejected.WithLabelValues(cmdType, reason).Inc()
	}
}

// computeStateDigest creates canonical bytes for the state hash: the command
// itself followed by the post-command balance of every account it touched.
func (c *Engine) computeStateDigest(t command.Type, caller ledger.AccountID, payload []byte, batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountID]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}
	accounts := make([]ledger.AccountID, 0, len(affected))
	for a := range affected {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	digest := make([]byte, 0, 16+len(caller)+len(payload)+len(accounts)*48)
	digest = binary.LittleEndian.AppendUint32(digest, uint32(t))
	digest = appendBytes(digest, []byte(caller))
	digest = appendBytes(digest, payload)
	for _, a := range accounts {
		digest = appendBytes(digest, []byte(a))
		digest = binary.LittleEndian.AppendUint64(digest, uint64(c.balances.GetBalance(a)))
	}
	return digest
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// postCheckInvariants validates invariants after a command commits.
func (c *Engine) postCheckInvariants(cmd command.Command, res *Result, seq int64) error {
	if id := lotteryOf(cmd, res); id != 0 {
		if err := c.checkLottery(id); err != nil {
			return err
		}
	}
	if seq%globalCheckInterval == 0 {
		if err := c.validator.ValidateAll(); err != nil {
			return fmt.Errorf("at seq %d: %w", seq, err)
		}
	}
	return nil
}

// checkLottery verifies totalPool == Σ optionAmounts == Σ ticket amounts, and
// that the pool account holds the stake until it is paid out.
func (c *Engine) checkLottery(id uint64) error {
	l, err := c.lotteries.Get(id)
	if err != nil {
		return err
	}
	var options, tickets int64
	for _, a := range l.OptionAmounts {
		options += a
	}
	for _, t := range c.lotteries.TicketsOf(id) {
		tickets += t.Amount
	}
	if options != l.TotalPool || tickets != l.TotalPool {
		return fmt.Errorf("lottery %d pool=%d options=%d tickets=%d", id, l.TotalPool, options, tickets)
	}
	expected := l.TotalPool
	if l.Settled || l.Status == lottery.StatusRefunded {
		expected = 0
	}
	return c.validator.ValidatePoolBalance(id, expected)
}

// CheckInvariants runs every invariant check over the whole state.
func (c *Engine) CheckInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validator.ValidateAll(); err != nil {
		return err
	}
	for _, l := range c.lotteries.All() {
		if err := c.checkLottery(l.ID); err != nil {
			return err
		}
	}
	return nil
}

func lotteryOf(cmd command.Command, res *Result) uint64 {
	switch {
	case res.Lottery != nil:
		return res.Lottery.ID
	case res.Ticket != nil:
		return res.Ticket.LotteryID
	case res.Listing != nil:
		return res.Listing.LotteryID
	}
	switch e := cmd.(type) {
	case *command.Settle:
		return e.LotteryID
	case *command.Refund:
		return e.LotteryID
	}
	return 0
}

// GetSequence returns the last committed sequence number.
func (c *Engine) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence - 1
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// Resolver returns the configured resolver account.
func (c *Engine) Resolver() ledger.AccountID {
	return c.resolver
}

// Now returns the engine's current clock reading.
func (c *Engine) Now() int64 {
	return c.clock.Now()
}
