// Package types provides value types shared by the allowance packages.
package types

import "time"

// Entity carries creation and modification timestamps for persisted records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := Now()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch moves UpdatedAt to now.
func (e *Entity) Touch() {
	e.UpdatedAt = Now()
}

// Now returns the current time in UTC truncated to microseconds, the finest
// precision every backend round-trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
