package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/allowance/types"
)

func TestNewEntity(t *testing.T) {
	e := types.NewEntity()
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.Zero(t, e.CreatedAt.Nanosecond()%int(time.Microsecond))
}

func TestTouch(t *testing.T) {
	e := types.Entity{CreatedAt: time.Unix(0, 0).UTC(), UpdatedAt: time.Unix(0, 0).UTC()}
	e.Touch()
	assert.True(t, e.UpdatedAt.After(e.CreatedAt))
	assert.Equal(t, time.Unix(0, 0).UTC(), e.CreatedAt)
}
