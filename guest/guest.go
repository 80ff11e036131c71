// Package guest meters generations for actors that have not signed in.
// The counter is independent of any identity; signing in does not transfer
// anonymous usage into the identity's quota.
package guest

import (
	"context"
	"sync"

	"github.com/xraph/allowance/entitlement"
)

// Counter is a bounded anonymous allowance. TryConsume must check and
// decrement as one step.
type Counter interface {
	TryConsume(ctx context.Context) (entitlement.Result, error)
	Remaining(ctx context.Context) (int, error)
	// Refund returns one generation, never raising the balance above the allowance.
	Refund(ctx context.Context) error
}

// Memory is an in-process Counter.
type Memory struct {
	mu        sync.Mutex
	allowance int
	used      int
}

var _ Counter = (*Memory)(nil)

// NewMemory returns a counter that grants allowance generations in total.
func NewMemory(allowance int) *Memory {
	if allowance < 0 {
		allowance = 0
	}
	return &Memory{allowance: allowance}
}

// TryConsume grants one generation if any remain.
func (m *Memory) TryConsume(_ context.Context) (entitlement.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.used >= m.allowance {
		res := entitlement.Denied(entitlement.ReasonGuestQuotaExhausted)
		res.Guest = true
		return res, nil
	}
	m.used++
	res := entitlement.Granted(m.allowance - m.used)
	res.Guest = true
	return res, nil
}

// Remaining reports how many generations are left.
func (m *Memory) Remaining(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowance - m.used, nil
}

// Refund gives back one generation.
func (m *Memory) Refund(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used > 0 {
		m.used--
	}
	return nil
}

// Reset restores the full allowance.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = 0
}
