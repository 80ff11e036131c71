package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	allowancestore "github.com/xraph/allowance/store"
	"github.com/xraph/allowance/types"
)

// compile-time interface check
var _ allowancestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("allowance/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("allowance/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Record Store ====================

func (s *Store) GetRecord(ctx context.Context, identityID string) (*entitlement.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("identity_id = ?", identityID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, allowance.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRecordModel(m), nil
}

func (s *Store) PutRecord(ctx context.Context, r *entitlement.Record) error {
	m := toRecordModel(r)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(identity_id) DO UPDATE").
		Set("tier_id = EXCLUDED.tier_id").
		Set("generations_remaining = EXCLUDED.generations_remaining").
		Set("display_name = EXCLUDED.display_name").
		Set("email = EXCLUDED.email").
		Set("avatar_ref = EXCLUDED.avatar_ref").
		Set("created_at = EXCLUDED.created_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) DeleteRecord(ctx context.Context, identityID string) error {
	_, err := s.sdb.NewDelete((*recordModel)(nil)).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	return err
}

// DecrementRecord takes one generation with a conditional UPDATE, so two
// processes sharing the database can never drive the balance below zero.
func (s *Store) DecrementRecord(ctx context.Context, identityID string) (*entitlement.Record, bool, error) {
	res, err := s.sdb.NewUpdate((*recordModel)(nil)).
		Set("generations_remaining = generations_remaining - 1").
		Set("updated_at = ?", types.Now()).
		Where("identity_id = ?", identityID).
		Where("generations_remaining > 0").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	rec, err := s.GetRecord(ctx, identityID)
	if err != nil {
		return nil, false, err
	}
	return rec, rows > 0, nil
}

// ==================== Pending Purchase Store ====================

func (s *Store) GetPending(ctx context.Context, identityID string) (*purchase.Pending, error) {
	m := new(pendingModel)
	err := s.sdb.NewSelect(m).
		Where("identity_id = ?", identityID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, allowance.ErrPendingNotFound
		}
		return nil, err
	}
	return fromPendingModel(m)
}

func (s *Store) PutPending(ctx context.Context, p *purchase.Pending) error {
	m := toPendingModel(p)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(identity_id) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("tier_id = EXCLUDED.tier_id").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return err
}

func (s *Store) DeletePending(ctx context.Context, identityID string) error {
	_, err := s.sdb.NewDelete((*pendingModel)(nil)).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	return err
}

// ==================== Session Store ====================

func (s *Store) CurrentSession(ctx context.Context) (string, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).
		Where("slot = ?", currentSlot).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return m.IdentityID, nil
}

func (s *Store) SetCurrentSession(ctx context.Context, identityID string) error {
	m := &sessionModel{Slot: currentSlot, IdentityID: identityID, UpdatedAt: types.Now()}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(slot) DO UPDATE").
		Set("identity_id = EXCLUDED.identity_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ClearCurrentSession(ctx context.Context) error {
	_, err := s.sdb.NewDelete((*sessionModel)(nil)).
		Where("slot = ?", currentSlot).
		Exec(ctx)
	return err
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
