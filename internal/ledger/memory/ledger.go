// Package memory is an in-process escrow ledger simulator. It keeps token
// balances, allowances and escrow records behind one mutex, so deposit and
// withdraw are atomic and withdraw is exactly-once. State changes apply when
// a submission is accepted; receipts and events become visible after the
// configured finality delay.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"remitgate/internal/ledger"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
)

// Op names a state-changing ledger call, for failure injection.
type Op string

const (
	OpAuthorize Op = "authorize"
	OpDeposit   Op = "deposit"
	OpWithdraw  Op = "withdraw"
)

type submission struct {
	receipt ledger.Receipt
	finalAt time.Time
	stalled bool
}

func (s *submission) final(now time.Time) bool {
	return !s.stalled && !now.Before(s.finalAt)
}

type loggedEvent struct {
	event ledger.Event
	sub   *submission
}

// Ledger is the simulator. The zero value is not usable; call New.
type Ledger struct {
	mu sync.Mutex

	clock        func() time.Time
	finality     time.Duration
	pollInterval time.Duration

	balances   map[id.Address]*big.Int
	allowances map[id.Address]*big.Int
	custody    *big.Int
	transfers  map[id.TransferID]*ledger.EscrowRecord
	lastID     id.TransferID

	submissions map[string]*submission
	events      []loggedEvent
	nonce       uint64

	failNext  map[Op]string
	stallNext map[Op]bool
}

type Option func(*Ledger)

// WithFinalityDelay holds receipts back for d after submission.
func WithFinalityDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.finality = d
	}
}

// WithClock overrides the time source used for finality.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithPollInterval sets how often Submission.Wait re-checks finality.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		l.pollInterval = d
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock:        time.Now,
		pollInterval: 10 * time.Millisecond,
		balances:     make(map[id.Address]*big.Int),
		allowances:   make(map[id.Address]*big.Int),
		custody:      new(big.Int),
		transfers:    make(map[id.TransferID]*ledger.EscrowRecord),
		submissions:  make(map[string]*submission),
		failNext:     make(map[Op]string),
		stallNext:    make(map[Op]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mint credits amount to addr.
func (l *Ledger) Mint(addr id.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceOf(addr).Add(l.balanceOf(addr), amount)
}

// Balance returns the token balance of addr.
func (l *Ledger) Balance(addr id.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceOf(addr))
}

// Custody returns the total amount held in escrow.
func (l *Ledger) Custody() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.custody)
}

// Allowance returns what the escrow may still pull from owner.
func (l *Ledger) Allowance(owner id.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// FailNext makes the next submission of op revert with reason, leaving state unchanged.
func (l *Ledger) FailNext(op Op, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext[op] = reason
}

// StallNext applies the next submission of op but withholds its receipt
// until Unstall, simulating a confirmation that never arrives in time.
func (l *Ledger) StallNext(op Op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stallNext[op] = true
}

// Unstall releases every stalled receipt.
func (l *Ledger) Unstall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.submissions {
		s.stalled = false
	}
}

func (l *Ledger) Authorize(ctx context.Context, signer ledger.Signer, amount *big.Int) (ledger.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("authorize: invalid amount")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	owner := signer.Address()
	return l.submit(OpAuthorize, func() []ledger.Event {
		l.allowances[owner] = new(big.Int).Set(amount)
		return nil
	}), nil
}

func (l *Ledger) Deposit(ctx context.Context, signer ledger.Signer, req ledger.DepositRequest) (ledger.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit: amount must be positive")
	}
	if req.Recipient.IsNil() {
		return nil, fmt.Errorf("deposit: recipient is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	sender := signer.Address()
	if l.allowanceOf(sender).Cmp(req.Amount) < 0 {
		return nil, ledger.ErrInsufficientAllowance
	}
	if l.balanceOf(sender).Cmp(req.Amount) < 0 {
		return nil, ledger.ErrInsufficientBalance
	}

	return l.submit(OpDeposit, func() []ledger.Event {
		amount := new(big.Int).Set(req.Amount)
		l.balanceOf(sender).Sub(l.balanceOf(sender), amount)
		l.allowanceOf(sender).Sub(l.allowanceOf(sender), amount)
		l.custody.Add(l.custody, amount)

		l.lastID++
		rec := &ledger.EscrowRecord{
			ID:             l.lastID,
			Sender:         sender,
			Recipient:      req.Recipient,
			Amount:         amount,
			FXRate:         cloneInt(req.FXRate),
			SourceCurrency: req.SourceCurrency.String(),
			TargetCurrency: req.TargetCurrency.String(),
			State:          ledger.StateFunded,
		}
		l.transfers[rec.ID] = rec
		return []ledger.Event{{
			Kind:           ledger.EventTransferInitiated,
			TransferID:     rec.ID,
			Sender:         rec.Sender,
			Recipient:      rec.Recipient,
			Amount:         new(big.Int).Set(amount),
			FXRate:         cloneInt(rec.FXRate),
			SourceCurrency: rec.SourceCurrency,
			TargetCurrency: rec.TargetCurrency,
		}}
	}), nil
}

func (l *Ledger) Withdraw(ctx context.Context, signer ledger.Signer, transferID id.TransferID) (ledger.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.transfers[transferID]
	if !ok {
		return nil, ledger.ErrUnknownTransfer
	}
	caller := signer.Address()
	if caller.Lower() != rec.Recipient.Lower() {
		return nil, ledger.ErrNotRecipient
	}
	if rec.State == ledger.StateWithdrawn {
		return nil, ledger.ErrAlreadyWithdrawn
	}

	return l.submit(OpWithdraw, func() []ledger.Event {
		rec.State = ledger.StateWithdrawn
		l.custody.Sub(l.custody, rec.Amount)
		l.balanceOf(rec.Recipient).Add(l.balanceOf(rec.Recipient), rec.Amount)
		return []ledger.Event{{
			Kind:       ledger.EventWithdrawn,
			TransferID: rec.ID,
			Recipient:  rec.Recipient,
		}}
	}), nil
}

func (l *Ledger) Transfer(ctx context.Context, transferID id.TransferID) (*ledger.EscrowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.transfers[transferID]
	if !ok {
		return nil, ledger.ErrUnknownTransfer
	}
	cp := *rec
	cp.Amount = cloneInt(rec.Amount)
	cp.FXRate = cloneInt(rec.FXRate)
	return &cp, nil
}

func (l *Ledger) Receipt(ctx context.Context, ref string) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.submissions[ref]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", ref, sentinel.ErrNotFound)
	}
	if !sub.final(l.clock()) {
		return nil, sentinel.ErrPending
	}
	r := sub.receipt
	r.Events = append([]ledger.Event(nil), sub.receipt.Events...)
	return &r, nil
}

// Events returns finalized events in emission order, stopping at the first
// event whose submission is not yet final.
func (l *Ledger) Events(ctx context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	var out []ledger.Event
	next := cursor
	for i := cursor; i < uint64(len(l.events)); i++ {
		if !l.events[i].sub.final(now) {
			break
		}
		out = append(out, l.events[i].event)
		next = i + 1
	}
	return out, next, nil
}

// submit records a submission. apply runs immediately unless a failure is
// injected for op. Callers hold l.mu.
func (l *Ledger) submit(op Op, apply func() []ledger.Event) ledger.Submission {
	l.nonce++
	ref := txRef(l.nonce)
	sub := &submission{
		receipt: ledger.Receipt{Ref: ref, Status: ledger.ReceiptSuccess},
		finalAt: l.clock().Add(l.finality),
	}
	if l.stallNext[op] {
		sub.stalled = true
		delete(l.stallNext, op)
	}

	if reason, ok := l.failNext[op]; ok {
		delete(l.failNext, op)
		sub.receipt.Status = ledger.ReceiptReverted
		sub.receipt.Reason = reason
	} else {
		for _, ev := range apply() {
			ev.Ref = ref
			ev.Cursor = uint64(len(l.events))
			sub.receipt.Events = append(sub.receipt.Events, ev)
			l.events = append(l.events, loggedEvent{event: ev, sub: sub})
		}
	}
	l.submissions[ref] = sub
	return ledger.NewPollingSubmission(ref, l.Receipt, l.pollInterval)
}

func (l *Ledger) balanceOf(addr id.Address) *big.Int {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	return b
}

func (l *Ledger) allowanceOf(addr id.Address) *big.Int {
	a, ok := l.allowances[addr]
	if !ok {
		a = new(big.Int)
		l.allowances[addr] = a
	}
	return a
}

func txRef(nonce uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return crypto.Keccak256Hash([]byte("remitgate-sim"), buf[:]).Hex()
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
