// Package credits implements the balance check and confirm-before-spend
// protocol that gates paid workflow operations.
package credits

import (
	"context"
	"fmt"
	"sync"
)

// Operation keys priced by the balance service.
const (
	OpCaseAnalysis  = "case_analysis"
	OpDSDSimulation = "dsd_simulation"
	// OpFullCase confirms analysis and design integration together.
	OpFullCase = "full_case"
)

// Balance is the remote balance service.
type Balance interface {
	RemainingBalance(ctx context.Context) (int, error)
	OperationCost(ctx context.Context, operationKey string) (int, error)
	Refresh(ctx context.Context) error
}

// ErrUnknownOperation is returned for an operation key without a price.
type ErrUnknownOperation struct {
	Key string
}

func (e ErrUnknownOperation) Error() string {
	return fmt.Sprintf("credits: unknown operation %q", e.Key)
}

// Ledger is an in-process Balance backed by a fixed price list.
type Ledger struct {
	mu        sync.Mutex
	remaining int
	costs     map[string]int
	refreshes int
}

// NewLedger constructs a ledger with a starting balance and price list.
func NewLedger(remaining int, costs map[string]int) *Ledger {
	cp := make(map[string]int, len(costs))
	for k, v := range costs {
		cp[k] = v
	}
	return &Ledger{remaining: remaining, costs: cp}
}

// DefaultCosts is the price list used when none is configured.
func DefaultCosts() map[string]int {
	return map[string]int{OpCaseAnalysis: 1, OpDSDSimulation: 2}
}

// RemainingBalance implements Balance.
func (l *Ledger) RemainingBalance(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, nil
}

// OperationCost implements Balance.
func (l *Ledger) OperationCost(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost, ok := l.costs[key]
	if !ok {
		return 0, ErrUnknownOperation{Key: key}
	}
	return cost, nil
}

// Refresh implements Balance; the ledger is always current.
func (l *Ledger) Refresh(_ context.Context) error {
	l.mu.Lock()
	l.refreshes++
	l.mu.Unlock()
	return nil
}

// Refreshes returns how many times Refresh was called.
func (l *Ledger) Refreshes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes
}

// Spend debits the cost of key, as the remote services do server-side.
func (l *Ledger) Spend(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost, ok := l.costs[key]
	if !ok {
		return ErrUnknownOperation{Key: key}
	}
	if cost > l.remaining {
		return fmt.Errorf("credits: insufficient credits for %s", key)
	}
	l.remaining -= cost
	return nil
}

// SetRemaining overrides the balance.
func (l *Ledger) SetRemaining(n int) {
	l.mu.Lock()
	l.remaining = n
	l.mu.Unlock()
}
