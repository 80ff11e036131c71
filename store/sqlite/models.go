package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/allowance/entitlement"
	"github.com/xraph/allowance/id"
	"github.com/xraph/allowance/identity"
	"github.com/xraph/allowance/purchase"
	"github.com/xraph/allowance/tier"
	"github.com/xraph/allowance/types"
)

// currentSlot is the key of the single row in allowance_sessions.
const currentSlot = "current"

// ==================== Record models ====================

type recordModel struct {
	grove.BaseModel `grove:"table:allowance_records"`

	IdentityID           string    `grove:"identity_id,pk"`
	TierID               string    `grove:"tier_id"`
	GenerationsRemaining int       `grove:"generations_remaining"`
	DisplayName          string    `grove:"display_name"`
	Email                string    `grove:"email"`
	AvatarRef            string    `grove:"avatar_ref"`
	CreatedAt            time.Time `grove:"created_at"`
	UpdatedAt            time.Time `grove:"updated_at"`
}

func toRecordModel(r *entitlement.Record) *recordModel {
	return &recordModel{
		IdentityID:           r.IdentityID,
		TierID:               string(r.TierID),
		GenerationsRemaining: r.GenerationsRemaining,
		DisplayName:          r.Profile.DisplayName,
		Email:                r.Profile.Email,
		AvatarRef:            r.Profile.AvatarRef,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) *entitlement.Record {
	return &entitlement.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		IdentityID:           m.IdentityID,
		TierID:               tier.ID(m.TierID),
		GenerationsRemaining: m.GenerationsRemaining,
		Profile: identity.Profile{
			DisplayName: m.DisplayName,
			Email:       m.Email,
			AvatarRef:   m.AvatarRef,
		},
	}
}

// ==================== Pending purchase models ====================

type pendingModel struct {
	grove.BaseModel `grove:"table:allowance_pending_purchases"`

	IdentityID string    `grove:"identity_id,pk"`
	ID         string    `grove:"id"`
	TierID     string    `grove:"tier_id"`
	CreatedAt  time.Time `grove:"created_at"`
}

func toPendingModel(p *purchase.Pending) *pendingModel {
	return &pendingModel{
		IdentityID: p.IdentityID,
		ID:         p.ID.String(),
		TierID:     string(p.TierID),
		CreatedAt:  p.CreatedAt,
	}
}

func fromPendingModel(m *pendingModel) (*purchase.Pending, error) {
	pid, err := id.ParsePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	return &purchase.Pending{
		ID:         pid,
		IdentityID: m.IdentityID,
		TierID:     tier.ID(m.TierID),
		CreatedAt:  m.CreatedAt.UTC(),
	}, nil
}

// ==================== Session models ====================

type sessionModel struct {
	grove.BaseModel `grove:"table:allowance_sessions"`

	Slot       string    `grove:"slot,pk"`
	IdentityID string    `grove:"identity_id"`
	UpdatedAt  time.Time `grove:"updated_at"`
}
