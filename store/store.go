// Package store defines the persistence interface a coordinator uses for
// its membership registry. Backends: Memory and Redis.
package store

import (
	"context"

	"github.com/xraph/cohort/cluster"
)

// Store is the membership persistence interface with a liveness check.
type Store interface {
	cluster.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
