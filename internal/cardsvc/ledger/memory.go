package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/avvvet/card-services/internal/cardsvc/models"
	"github.com/shopspring/decimal"
)

// Memory is an in-process token with the usual mint / approve / transferFrom surface.
type Memory struct {
	mu         sync.Mutex
	pool       models.Holder
	balances   map[models.Holder]decimal.Decimal
	allowances map[models.Holder]decimal.Decimal // owner -> amount the pool may pull
}

func NewMemory(pool models.Holder) *Memory {
	if pool == "" {
		pool = DefaultPool
	}
	return &Memory{
		pool:       pool,
		balances:   make(map[models.Holder]decimal.Decimal),
		allowances: make(map[models.Holder]decimal.Decimal),
	}
}

func (m *Memory) Pool() models.Holder { return m.pool }

func (m *Memory) Mint(_ context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[to] = m.balances[to].Add(amount)
	return nil
}

// Approve sets the amount the pool may pull from owner, replacing any previous value.
func (m *Memory) Approve(_ context.Context, owner models.Holder, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[owner] = amount
	return nil
}

func (m *Memory) Allowance(_ context.Context, owner models.Holder) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner], nil
}

func (m *Memory) BalanceOf(_ context.Context, account models.Holder) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) Pull(_ context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[from].LessThan(amount) {
		return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientAllowance)
	}
	if m.balances[from].LessThan(amount) {
		return fmt.Errorf("pull %s from %s: %w", amount, from, ErrInsufficientBalance)
	}

	m.allowances[from] = m.allowances[from].Sub(amount)
	m.balances[from] = m.balances[from].Sub(amount)
	m.balances[m.pool] = m.balances[m.pool].Add(amount)
	return nil
}

func (m *Memory) Push(_ context.Context, to models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[m.pool].LessThan(amount) {
		return fmt.Errorf("push %s to %s: %w", amount, to, ErrInsufficientBalance)
	}
	m.balances[m.pool] = m.balances[m.pool].Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	return nil
}

// RevertPull undoes a Pull exactly, allowance included.
func (m *Memory) RevertPull(_ context.Context, from models.Holder, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[m.pool].LessThan(amount) {
		return fmt.Errorf("revert pull %s to %s: %w", amount, from, ErrInsufficientBalance)
	}
	m.balances[m.pool] = m.balances[m.pool].Sub(amount)
	m.balances[from] = m.balances[from].Add(amount)
	m.allowances[from] = m.allowances[from].Add(amount)
	return nil
}

func (m *Memory) PoolBalance(ctx context.Context) (decimal.Decimal, error) {
	return m.BalanceOf(ctx, m.pool)
}
