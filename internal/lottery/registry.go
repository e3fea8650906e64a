// Package lottery owns lottery pools and the tickets minted against them.
// Purchase is the only operation that moves points into a pool.
package lottery

import (
	"sort"
	"strings"

	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	fpmath "LotteryLedger/internal/math"
	"LotteryLedger/internal/ownership"
	"LotteryLedger/internal/txn"
)

// CreateParams are the caller-supplied attributes of a new lottery.
type CreateParams struct {
	Name        string
	Description string
	Options     []string
	TicketPrice int64
	Duration    int64
}

// Registry stores lotteries and tickets. Lottery and token ids are allocated
// monotonically from 1 and never reused.
type Registry struct {
	balances *ledger.BalanceTracker
	owners   *ownership.Registry

	lotteries   map[uint64]*Lottery
	tickets     map[uint64]*Ticket
	byLottery   map[uint64][]uint64
	nextLottery uint64
	nextToken   uint64
}

func NewRegistry(balances *ledger.BalanceTracker, owners *ownership.Registry) *Registry {
	return &Registry{
		balances:    balances,
		owners:      owners,
		lotteries:   make(map[uint64]*Lottery),
		tickets:     make(map[uint64]*Ticket),
		byLottery:   make(map[uint64][]uint64),
		nextLottery: 1,
		nextToken:   1,
	}
}

// ValidateCreate checks arguments without reading any state.
func ValidateCreate(p CreateParams) error {
	if strings.TrimSpace(p.Name) == "" {
		return errs.Wrap(errs.ErrInvalidArgument, "name is empty")
	}
	if len(p.Options) < 2 {
		return errs.Wrap(errs.ErrInvalidArgument, "need at least 2 options, got %d", len(p.Options))
	}
	for i, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return errs.Wrap(errs.ErrInvalidArgument, "option %d is empty", i)
		}
	}
	if p.TicketPrice <= 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "ticket price must be positive: %d", p.TicketPrice)
	}
	if p.Duration <= 0 {
		return errs.Wrap(errs.ErrInvalidArgument, "duration must be positive: %d", p.Duration)
	}
	return nil
}

// Create opens a new Active lottery ending at now + duration.
func (r *Registry) Create(tx *txn.Tx, creator ledger.AccountID, p CreateParams, now int64) (Lottery, error) {
	if err := ValidateCreate(p); err != nil {
		return Lottery{}, err
	}
	if err := ledger.ValidateUser(creator); err != nil {
		return Lottery{}, err
	}
	endTime, err := fpmath.CheckedAdd(now, p.Duration)
	if err != nil {
		return Lottery{}, errs.Wrap(errs.ErrOverflow, "end time")
	}

	id := r.nextLottery
	l := &Lottery{
		ID:            id,
		Name:          p.Name,
		Description:   p.Description,
		Options:       append([]string(nil), p.Options...),
		TicketPrice:   p.TicketPrice,
		EndTime:       endTime,
		Status:        StatusActive,
		OptionCounts:  make([]int64, len(p.Options)),
		OptionAmounts: make([]int64, len(p.Options)),
		Creator:       creator,
		CreatedAt:     now,
	}
	r.lotteries[id] = l
	r.nextLottery++
	tx.OnRollback(func() {
		delete(r.lotteries, id)
		r.nextLottery = id
	})
	return l.Clone(), nil
}

// Purchase buys one ticket for caller. The ticket price is pulled from the
// caller through the lottery spender allowance into the lottery's pool account.
func (r *Registry) Purchase(tx *txn.Tx, caller ledger.AccountID, lotteryID uint64, optionID int, now int64) (Ticket, error) {
	l, ok := r.lotteries[lotteryID]
	if !ok {
		return Ticket{}, errs.Wrap(errs.ErrLotteryNotFound, "lottery %d", lotteryID)
	}
	if !l.ValidOption(optionID) {
		return Ticket{}, errs.Wrap(errs.ErrInvalidOption, "option %d of lottery %d", optionID, lotteryID)
	}
	if !l.IsOpen(now) {
		return Ticket{}, errs.Wrap(errs.ErrLotteryNotActive, "lottery %d is %s, ends at %d", lotteryID, l.Status, l.EndTime)
	}
	if err := ledger.ValidateUser(caller); err != nil {
		return Ticket{}, err
	}

	pool, err := fpmath.CheckedAdd(l.TotalPool, l.TicketPrice)
	if err != nil {
		return Ticket{}, errs.Wrap(errs.ErrOverflow, "pool of lottery %d", lotteryID)
	}
	optAmount, err := fpmath.CheckedAdd(l.OptionAmounts[optionID], l.TicketPrice)
	if err != nil {
		return Ticket{}, errs.Wrap(errs.ErrOverflow, "option amount of lottery %d", lotteryID)
	}

	if err := r.balances.Spend(tx, caller, ledger.LotterySpender, ledger.PoolAccount(lotteryID), l.TicketPrice, ledger.JournalTypeTicketPurchase); err != nil {
		return Ticket{}, err
	}

	tokenID := r.nextToken
	if err := r.owners.Mint(tx, caller, tokenID); err != nil {
		return Ticket{}, err
	}

	r.saveLottery(tx, l)
	l.TotalPool = pool
	l.OptionAmounts[optionID] = optAmount
	l.OptionCounts[optionID]++

	t := &Ticket{
		TokenID:      tokenID,
		LotteryID:    lotteryID,
		OptionID:     optionID,
		Owner:        caller,
		Purchaser:    caller,
		Amount:       l.TicketPrice,
		PurchaseTime: now,
		Status:       TicketReady,
	}
	r.tickets[tokenID] = t
	r.byLottery[lotteryID] = append(r.byLottery[lotteryID], tokenID)
	r.nextToken++
	tx.OnRollback(func() {
		delete(r.tickets, tokenID)
		ids := r.byLottery[lotteryID]
		r.byLottery[lotteryID] = ids[:len(ids)-1]
		r.nextToken = tokenID
	})
	return *t, nil
}

// === Status transitions ===

// MarkDrawn moves an Active lottery to Drawn with the given winning option.
func (r *Registry) MarkDrawn(tx *txn.Tx, lotteryID uint64, winningOption int) error {
	l, err := r.lottery(lotteryID)
	if err != nil {
		return err
	}
	if l.Status != StatusActive {
		return errs.Wrap(errs.ErrWrongStatus, "lottery %d is %s", lotteryID, l.Status)
	}
	if !l.ValidOption(winningOption) {
		return errs.Wrap(errs.ErrInvalidOption, "option %d of lottery %d", winningOption, lotteryID)
	}
	r.saveLottery(tx, l)
	l.Status = StatusDrawn
	l.WinningOption = winningOption
	return nil
}

// MarkRefunded moves an Active or Drawn lottery to Refunded.
func (r *Registry) MarkRefunded(tx *txn.Tx, lotteryID uint64) error {
	l, err := r.lottery(lotteryID)
	if err != nil {
		return err
	}
	if l.Status == StatusRefunded {
		return errs.Wrap(errs.ErrAlreadyRefunded, "lottery %d", lotteryID)
	}
	r.saveLottery(tx, l)
	l.Status = StatusRefunded
	return nil
}

// MarkSettled records that payouts for a Drawn lottery have been made.
func (r *Registry) MarkSettled(tx *txn.Tx, lotteryID uint64) error {
	l, err := r.lottery(lotteryID)
	if err != nil {
		return err
	}
	if l.Status != StatusDrawn {
		return errs.Wrap(errs.ErrWrongStatus, "lottery %d is %s", lotteryID, l.Status)
	}
	if l.Settled {
		return errs.Wrap(errs.ErrAlreadySettled, "lottery %d", lotteryID)
	}
	r.saveLottery(tx, l)
	l.Settled = true
	return nil
}

// SetTicketStatus updates a ticket's disposition. Terminal statuses cannot change.
func (r *Registry) SetTicketStatus(tx *txn.Tx, tokenID uint64, status TicketStatus) error {
	t, err := r.ticket(tokenID)
	if err != nil {
		return err
	}
	if t.Status == TicketWinning || t.Status == TicketLosing {
		return errs.Wrap(errs.ErrWrongTicketStatus, "ticket %d is %s", tokenID, t.Status)
	}
	prev := t.Status
	t.Status = status
	tx.OnRollback(func() { t.Status = prev })
	return nil
}

// SetTicketOwner records a new beneficial owner after a sale.
func (r *Registry) SetTicketOwner(tx *txn.Tx, tokenID uint64, owner ledger.AccountID) error {
	t, err := r.ticket(tokenID)
	if err != nil {
		return err
	}
	prev := t.Owner
	t.Owner = owner
	tx.OnRollback(func() { t.Owner = prev })
	return nil
}

func (r *Registry) saveLottery(tx *txn.Tx, l *Lottery) {
	prev := l.Clone()
	tx.OnRollback(func() { *l = prev })
}

func (r *Registry) lottery(id uint64) (*Lottery, error) {
	l, ok := r.lotteries[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrLotteryNotFound, "lottery %d", id)
	}
	return l, nil
}

func (r *Registry) ticket(id uint64) (*Ticket, error) {
	t, ok := r.tickets[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrTicketNotFound, "ticket %d", id)
	}
	return t, nil
}

// === Reads ===

// Get returns a copy of a lottery.
func (r *Registry) Get(id uint64) (Lottery, error) {
	l, err := r.lottery(id)
	if err != nil {
		return Lottery{}, err
	}
	return l.Clone(), nil
}

// All returns every lottery in id order.
func (r *Registry) All() []Lottery {
	out := make([]Lottery, 0, len(r.lotteries))
	for id := uint64(1); id < r.nextLottery; id++ {
		if l, ok := r.lotteries[id]; ok {
			out = append(out, l.Clone())
		}
	}
	return out
}

// Ticket returns a copy of a ticket.
func (r *Registry) Ticket(tokenID uint64) (Ticket, error) {
	t, err := r.ticket(tokenID)
	if err != nil {
		return Ticket{}, err
	}
	return *t, nil
}

// TicketsOf returns the tickets of a lottery in token id order.
func (r *Registry) TicketsOf(lotteryID uint64) []Ticket {
	ids := r.byLottery[lotteryID]
	out := make([]Ticket, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.tickets[id])
	}
	return out
}

// TicketsOwnedBy returns the tickets whose beneficial owner is account, in token id order.
func (r *Registry) TicketsOwnedBy(account ledger.AccountID) []Ticket {
	var out []Ticket
	for id := uint64(1); id < r.nextToken; id++ {
		if t, ok := r.tickets[id]; ok && t.Owner == account {
			out = append(out, *t)
		}
	}
	return out
}

// === Snapshot ===

// State is the serializable content of the registry.
type State struct {
	NextLotteryID uint64    `json:"next_lottery_id"`
	NextTokenID   uint64    `json:"next_token_id"`
	Lotteries     []Lottery `json:"lotteries"`
	Tickets       []Ticket  `json:"tickets"`
}

// Snapshot returns the registry state in id order.
func (r *Registry) Snapshot() State {
	s := State{
		NextLotteryID: r.nextLottery,
		NextTokenID:   r.nextToken,
		Lotteries:     r.All(),
		Tickets:       make([]Ticket, 0, len(r.tickets)),
	}
	for _, t := range r.tickets {
		s.Tickets = append(s.Tickets, *t)
	}
	sort.Slice(s.Tickets, func(i, j int) bool { return s.Tickets[i].TokenID < s.Tickets[j].TokenID })
	return s
}

// Restore replaces all state with a snapshot.
func (r *Registry) Restore(s State) {
	r.lotteries = make(map[uint64]*Lottery, len(s.Lotteries))
	r.tickets = make(map[uint64]*Ticket, len(s.Tickets))
	r.byLottery = make(map[uint64][]uint64)
	for i := range s.Lotteries {
		l := s.Lotteries[i].Clone()
		r.lotteries[l.ID] = &l
	}
	for i := range s.Tickets {
		t := s.Tickets[i]
		r.tickets[t.TokenID] = &t
		r.byLottery[t.LotteryID] = append(r.byLottery[t.LotteryID], t.TokenID)
	}
	r.nextLottery = max(s.NextLotteryID, 1)
	r.nextToken = max(s.NextTokenID, 1)
}
