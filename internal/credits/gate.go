package credits

import (
	"context"
	"errors"
	"sync"
)

// Confirmation describes one pending confirm-before-spend prompt.
type Confirmation struct {
	OperationKey     string `json:"operation_key"`
	Label            string `json:"label"`
	Cost             int    `json:"cost"`
	RemainingBalance int    `json:"remaining_balance"`
}

// Confirmer resolves a confirmation to accept or deny.
type Confirmer interface {
	Confirm(ctx context.Context, c Confirmation) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, c Confirmation) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(ctx context.Context, c Confirmation) (bool, error) { return f(ctx, c) }

// AutoConfirm accepts or denies every prompt without asking.
func AutoConfirm(accept bool) Confirmer {
	return ConfirmerFunc(func(context.Context, Confirmation) (bool, error) { return accept, nil })
}

// ErrPromptPending is returned when a second prompt is opened while one is live.
var ErrPromptPending = errors.New("credits: confirmation already pending")

// Prompt is an interactive Confirmer: Confirm suspends until Respond is
// called or ctx is done. At most one confirmation is live.
type Prompt struct {
	mu      sync.Mutex
	pending *Confirmation
	answer  chan bool
	opened  chan Confirmation
}

// NewPrompt constructs an interactive prompt. Opened confirmations are also
// published on Opened for UIs that prefer a channel.
func NewPrompt() *Prompt {
	return &Prompt{opened: make(chan Confirmation, 1)}
}

// Opened delivers each confirmation as it is opened.
func (p *Prompt) Opened() <-chan Confirmation { return p.opened }

// Confirm implements Confirmer.
func (p *Prompt) Confirm(ctx context.Context, c Confirmation) (bool, error) {
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return false, ErrPromptPending
	}
	answer := make(chan bool, 1)
	p.pending = &c
	p.answer = answer
	select {
	case <-p.opened:
	default:
	}
	p.opened <- c
	p.mu.Unlock()

	defer p.clear(answer)
	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending returns the live confirmation, if any.
func (p *Prompt) Pending() (Confirmation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Confirmation{}, false
	}
	return *p.pending, true
}

// Respond resolves the live confirmation. It returns false when nothing is pending.
func (p *Prompt) Respond(accept bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return false
	}
	p.answer <- accept
	p.pending = nil
	p.answer = nil
	return true
}

func (p *Prompt) clear(answer chan bool) {
	p.mu.Lock()
	if p.answer == answer {
		p.pending = nil
		p.answer = nil
	}
	p.mu.Unlock()
}

// Gate prices operations and asks the confirmer before spending.
type Gate struct {
	balance   Balance
	confirmer Confirmer
}

// NewGate constructs a gate. A nil confirmer denies everything.
func NewGate(balance Balance, confirmer Confirmer) *Gate {
	if confirmer == nil {
		confirmer = AutoConfirm(false)
	}
	return &Gate{balance: balance, confirmer: confirmer}
}

// Balance returns the underlying balance service.
func (g *Gate) Balance() Balance { return g.balance }

// Cost returns the price of one operation.
func (g *Gate) Cost(ctx context.Context, key string) (int, error) {
	return g.balance.OperationCost(ctx, key)
}

// CombinedCost sums the individual price of every stage. Multi-stage
// operations are never discounted.
func (g *Gate) CombinedCost(ctx context.Context, keys ...string) (int, error) {
	total := 0
	for _, key := range keys {
		c, err := g.balance.OperationCost(ctx, key)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// CanAfford reports whether the remaining balance covers cost.
func (g *Gate) CanAfford(ctx context.Context, cost int) (bool, int, error) {
	remaining, err := g.balance.RemainingBalance(ctx)
	if err != nil {
		return false, 0, err
	}
	return remaining >= cost, remaining, nil
}

// ConfirmUse asks the confirmer to approve spending on key. When
// costOverride is non-nil it replaces the listed price.
func (g *Gate) ConfirmUse(ctx context.Context, key, label string, costOverride *int) (bool, error) {
	var cost int
	if costOverride != nil {
		cost = *costOverride
	} else {
		c, err := g.balance.OperationCost(ctx, key)
		if err != nil {
			return false, err
		}
		cost = c
	}
	remaining, err := g.balance.RemainingBalance(ctx)
	if err != nil {
		return false, err
	}
	return g.confirmer.Confirm(ctx, Confirmation{
		OperationKey:     key,
		Label:            label,
		Cost:             cost,
		RemainingBalance: remaining,
	})
}
