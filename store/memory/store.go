// Package memory provides an in-process store.Store. Records are copied
// on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/store"
	"github.com/xraph/allowance/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Entitlement records keyed by identity ID
	records map[string]*entitlement.Record

	// Pending purchases keyed by identity ID
	pending map[string]*purchase.Pending

	// Current session pointer
	current string
}

func New() *Store {
	return &Store{
		records: make(map[string]*entitlement.Record),
		pending: make(map[string]*purchase.Pending),
	}
}

// Entitlement record implementation
func (s *Store) GetRecord(_ context.Context, identityID string) (*entitlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, allowance.ErrStoreClosed
	}
	if r, ok := s.records[identityID]; ok {
		return r.Clone(), nil
	}
	return nil, allowance.ErrRecordNotFound
}

func (s *Store) PutRecord(_ context.Context, r *entitlement.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allowance.ErrStoreClosed
	}
	s.records[r.IdentityID] = r.Clone()
	return nil
}

func (s *Store) DeleteRecord(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allowance.ErrStoreClosed
	}
	delete(s.records, identityID)
	return nil
}

func (s *Store) DecrementRecord(_ context.Context, identityID string) (*entitlement.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, allowance.ErrStoreClosed
	}
	r, ok := s.records[identityID]
	if !ok {
		return nil, false, allowance.ErrRecordNotFound
	}
	if r.GenerationsRemaining <= 0 {
		return r.Clone(), false, nil
	}
	r.GenerationsRemaining--
	r.UpdatedAt = types.Now()
	return r.Clone(), true, nil
}

// Pending purchase implementation
func (s *Store) GetPending(_ context.Context, identityID string) (*purchase.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, allowance.ErrStoreClosed
	}
	if p, ok := s.pending[identityID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, allowance.ErrPendingNotFound
}

func (s *Store) PutPending(_ context.Context, p *purchase.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allowance.ErrStoreClosed
	}
	cp := *p
	s.pending[p.IdentityID] = &cp
	return nil
}

func (s *Store) DeletePending(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allowance.ErrStoreClosed
	}
	delete(s.pending, identityID)
	return nil
}

// Session implementation
func (s *Store) CurrentSession(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", allowance.ErrStoreClosed
	}
	return s.current, nil
}

func (s *Store) SetCurrentSession(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return allowance.ErrStoreClosed
	}
	s.current = identityID
	return nil
}

func (s *Store) ClearCurrentSession(_ context.Context) error {
	return s.SetCurrentSession(context.Background(), "")
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return allowance.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
