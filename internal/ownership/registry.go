// Package ownership tracks which account holds each ticket token and which
// spender, if any, may move it on the holder's behalf.
package ownership

import (
	"sort"

	"LotteryLedger/internal/errs"
	"LotteryLedger/internal/ledger"
	"LotteryLedger/internal/txn"
)

// Registry is a non-fungible ownership table with single-slot approvals.
type Registry struct {
	owners    map[uint64]ledger.AccountID
	approvals map[uint64]ledger.AccountID
	counts    map[ledger.AccountID]int
}

func NewRegistry() *Registry {
	return &Registry{
		owners:    make(map[uint64]ledger.AccountID),
		approvals: make(map[uint64]ledger.AccountID),
		counts:    make(map[ledger.AccountID]int),
	}
}

// OwnerOf returns the current holder of a token.
func (r *Registry) OwnerOf(tokenID uint64) (ledger.AccountID, error) {
	owner, ok := r.owners[tokenID]
	if !ok {
		return "", errs.Wrap(errs.ErrTicketNotFound, "token %d", tokenID)
	}
	return owner, nil
}

// BalanceOf returns the number of tokens held by an account.
func (r *Registry) BalanceOf(owner ledger.AccountID) int {
	return r.counts[owner]
}

// GetApproved returns the approved spender for a token, or "" if none.
func (r *Registry) GetApproved(tokenID uint64) ledger.AccountID {
	return r.approvals[tokenID]
}

// Mint records a new token held by owner.
func (r *Registry) Mint(tx *txn.Tx, owner ledger.AccountID, tokenID uint64) error {
	if owner == "" {
		return errs.Wrap(errs.ErrInvalidArgument, "mint to empty owner")
	}
	if _, exists := r.owners[tokenID]; exists {
		return errs.Wrap(errs.ErrAlreadyExists, "token %d", tokenID)
	}
	r.owners[tokenID] = owner
	r.counts[owner]++
	tx.OnRollback(func() {
		delete(r.owners, tokenID)
		r.decCount(owner)
	})
	return nil
}

// Approve sets the single approved spender for a token. Only the holder may approve.
func (r *Registry) Approve(tx *txn.Tx, caller ledger.AccountID, tokenID uint64, spender ledger.AccountID) error {
	owner, err := r.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if caller != owner {
		return errs.Wrap(errs.ErrNotOwner, "caller %s does not hold token %d", caller, tokenID)
	}
	r.setApproval(tx, tokenID, spender)
	return nil
}

// TransferFrom moves a token from one holder to another. The caller must be the
// holder or the approved spender. Any approval is cleared.
func (r *Registry) TransferFrom(tx *txn.Tx, caller, from, to ledger.AccountID, tokenID uint64) error {
	owner, err := r.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if from != owner {
		return errs.Wrap(errs.ErrNotOwner, "%s does not hold token %d", from, tokenID)
	}
	if caller != owner && caller != r.approvals[tokenID] {
		return errs.Wrap(errs.ErrNotApproved, "caller %s for token %d", caller, tokenID)
	}
	if to == "" {
		return errs.Wrap(errs.ErrInvalidArgument, "transfer to empty account")
	}

	r.setApproval(tx, tokenID, "")
	r.owners[tokenID] = to
	r.decCount(from)
	r.counts[to]++
	tx.OnRollback(func() {
		r.owners[tokenID] = from
		r.decCount(to)
		r.counts[from]++
	})
	return nil
}

func (r *Registry) setApproval(tx *txn.Tx, tokenID uint64, spender ledger.AccountID) {
	prev, had := r.approvals[tokenID]
	if spender == "" {
		delete(r.approvals, tokenID)
	} else {
		r.approvals[tokenID] = spender
	}
	tx.OnRollback(func() {
		if had {
			r.approvals[tokenID] = prev
		} else {
			delete(r.approvals, tokenID)
		}
	})
}

func (r *Registry) decCount(owner ledger.AccountID) {
	if r.counts[owner] <= 1 {
		delete(r.counts, owner)
		return
	}
	r.counts[owner]--
}

// Holding is one row of an ownership snapshot.
type Holding struct {
	TokenID  uint64           `json:"token_id"`
	Owner    ledger.AccountID `json:"owner"`
	Approved ledger.AccountID `json:"approved,omitempty"`
}

// Snapshot returns every token holding in token id order.
func (r *Registry) Snapshot() []Holding {
	out := make([]Holding, 0, len(r.owners))
	for id, owner := range r.owners {
		out = append(out, Holding{TokenID: id, Owner: owner, Approved: r.approvals[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Restore replaces all state with a snapshot.
func (r *Registry) Restore(holdings []Holding) {
	r.owners = make(map[uint64]ledger.AccountID, len(holdings))
	r.approvals = make(map[uint64]ledger.AccountID)
	r.counts = make(map[ledger.AccountID]int)
	for _, h := range holdings {
		r.owners[h.TokenID] = h.Owner
		r.counts[h.Owner]++
		if h.Approved != "" {
			r.approvals[h.TokenID] = h.Approved
		}
	}
}
