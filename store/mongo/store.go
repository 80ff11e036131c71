package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/allowance"
	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/purchase"
	allowancestore "github.com/xraph/allowance/store"
	"github.com/xraph/allowance/types"
)

// Collection name constants.
const (
	colRecords  = "allowance_records"
	colPending  = "allowance_pending_purchases"
	colSessions = "allowance_sessions"
)

// compile-time interface check
var _ allowancestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all allowance collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("allowance/mongo: migrate %s indexes: %w", col, err)
		}
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
	var m recordModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": identityID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, allowance.ErrRecordNotFound
		}
		return nil, fmt.Errorf("allowance/mongo: get record: %w", err)
	}
	return fromRecordModel(&m), nil
}

func (s *Store) PutRecord(ctx context.Context, r *entitlement.Record) error {
	m := toRecordModel(r)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.IdentityID}).
		SetUpdate(bson.M{"$set": bson.M{
			"tier_id":               m.TierID,
			"generations_remaining": m.GenerationsRemaining,
			"display_name":          m.DisplayName,
			"email":                 m.Email,
			"avatar_ref":            m.AvatarRef,
			"created_at":            m.CreatedAt,
			"updated_at":            m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: put record: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, identityID string) error {
	_, err := s.mdb.NewDelete((*recordModel)(nil)).
		Filter(bson.M{"_id": identityID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: delete record: %w", err)
	}
	return nil
}

// DecrementRecord takes one generation with a filtered $inc, so the
// balance can never go below zero under concurrent writers.
func (s *Store) DecrementRecord(ctx context.Context, identityID string) (*entitlement.Record, bool, error) {
	res, err := s.mdb.NewUpdate((*recordModel)(nil)).
		Filter(bson.M{
			"_id":                   identityID,
			"generations_remaining": bson.M{"$gt": 0},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"generations_remaining": -1},
			"$set": bson.M{"updated_at": types.Now()},
		}).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("allowance/mongo: decrement record: %w", err)
	}

	rec, err := s.GetRecord(ctx, identityID)
	if err != nil {
		return nil, false, err
	}
	return rec, res.MatchedCount() > 0, nil
}

// ==================== Pending Purchase Store ====================

func (s *Store) GetPending(ctx context.Context, identityID string) (*purchase.Pending, error) {
	var m pendingModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": identityID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, allowance.ErrPendingNotFound
		}
		return nil, fmt.Errorf("allowance/mongo: get pending purchase: %w", err)
	}
	return fromPendingModel(&m)
}

func (s *Store) PutPending(ctx context.Context, p *purchase.Pending) error {
	m := toPendingModel(p)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.IdentityID}).
		SetUpdate(bson.M{"$set": bson.M{
			"purchase_id": m.ID,
			"tier_id":     m.TierID,
			"created_at":  m.CreatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: put pending purchase: %w", err)
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, identityID string) error {
	_, err := s.mdb.NewDelete((*pendingModel)(nil)).
		Filter(bson.M{"_id": identityID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: delete pending purchase: %w", err)
	}
	return nil
}

// ==================== Session Store ====================

func (s *Store) CurrentSession(ctx context.Context) (string, error) {
	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": currentSlot}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return "", nil
		}
		return "", fmt.Errorf("allowance/mongo: current session: %w", err)
	}
	return m.IdentityID, nil
}

func (s *Store) SetCurrentSession(ctx context.Context, identityID string) error {
	_, err := s.mdb.NewUpdate((*sessionModel)(nil)).
		Filter(bson.M{"_id": currentSlot}).
		SetUpdate(bson.M{"$set": bson.M{
			"identity_id": identityID,
			"updated_at":  types.Now(),
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: set current session: %w", err)
	}
	return nil
}

func (s *Store) ClearCurrentSession(ctx context.Context) error {
	_, err := s.mdb.NewDelete((*sessionModel)(nil)).
		Filter(bson.M{"_id": currentSlot}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("allowance/mongo: clear current session: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all allowance collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colRecords: {
			{Keys: bson.D{{Key: "tier_id", Value: 1}}},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
		colPending: {
			{
				Keys:    bson.D{{Key: "purchase_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSessions: {},
	}
}
