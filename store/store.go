package store

import (
	"context"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/session"
)

// Store is the unified storage interface for all allowance entities.
// Methods are declared explicitly rather than embedded because the domain
// stores share method names.
type Store interface {
	// Entitlement record methods
	GetRecord(ctx context.Context, identityID string) (*entitlement.Record, error)
	PutRecord(ctx context.Context, r *entitlement.Record) error
	DeleteRecord(ctx context.Context, identityID string) error
	DecrementRecord(ctx context.Context, identityID string) (*entitlement.Record, bool, error)

	// Pending purchase methods
	GetPending(ctx context.Context, identityID string) (*purchase.Pending, error)
	PutPending(ctx context.Context, p *purchase.Pending) error
	DeletePending(ctx context.Context, identityID string) error

	// Current session methods
	CurrentSession(ctx context.Context) (string, error)
	SetCurrentSession(ctx context.Context, identityID string) error
	ClearCurrentSession(ctx context.Context) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Records adapts a Store to entitlement.Store.
func Records(s Store) entitlement.Store { return records{s} }

// Purchases adapts a Store to purchase.Store.
func Purchases(s Store) purchase.Store { return purchases{s} }

// Sessions adapts a Store to session.Store.
func Sessions(s Store) session.Store { return sessions{s} }

type records struct{ s Store }

func (r records) Get(ctx context.Context, identityID string) (*entitlement.Record, error) {
	return r.s.GetRecord(ctx, identityID)
}

func (r records) Put(ctx context.Context, rec *entitlement.Record) error {
	return r.s.PutRecord(ctx, rec)
}

func (r records) Delete(ctx context.Context, identityID string) error {
	return r.s.DeleteRecord(ctx, identityID)
}

func (r records) Decrement(ctx context.Context, identityID string) (*entitlement.Record, bool, error) {
	return r.s.DecrementRecord(ctx, identityID)
}

type purchases struct{ s Store }

func (p purchases) Get(ctx context.Context, identityID string) (*purchase.Pending, error) {
	return p.s.GetPending(ctx, identityID)
}

func (p purchases) Put(ctx context.Context, pend *purchase.Pending) error {
	return p.s.PutPending(ctx, pend)
}

func (p purchases) Delete(ctx context.Context, identityID string) error {
	return p.s.DeletePending(ctx, identityID)
}

type sessions struct{ s Store }

func (ss sessions) Current(ctx context.Context) (string, error) {
	return ss.s.CurrentSession(ctx)
}

func (ss sessions) SetCurrent(ctx context.Context, identityID string) error {
	return ss.s.SetCurrentSession(ctx, identityID)
}

func (ss sessions) ClearCurrent(ctx context.Context) error {
	return ss.s.ClearCurrentSession(ctx)
}
