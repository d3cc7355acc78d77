// Package cache holds short-lived request snapshots so clients polling for
// status do not hit Postgres on every call. Every implementation is advisory:
// failures are logged and reported as a miss.
package cache

import (
	"context"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*model.Snapshot, bool) { return nil, false }
func (Nop) Put(context.Context, string, *model.Snapshot)        {}
func (Nop) Delete(context.Context, string)                      {}
