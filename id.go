package allowance

import "github.com/xraph/allowance/id"

// ID is the primary identifier type for allowance entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
