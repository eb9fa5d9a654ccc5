// Package lumen provides a minimal public API for embedding the game core.
//
// Gameplay layers (chat adapters, schedulers, admin tools) should depend on
// this package rather than on internal packages directly. It exports only
// the aggregate types, the error taxonomy, and the root context needed to
// drive the core programmatically.
package lumen

import (
	"context"

	"github.com/lumenlabs/lumen/internal/config"
	"github.com/lumenlabs/lumen/internal/core"
	"github.com/lumenlabs/lumen/internal/memstore"
	"github.com/lumenlabs/lumen/internal/resilience"
	"github.com/lumenlabs/lumen/internal/resource"
	"github.com/lumenlabs/lumen/internal/storage"
	"github.com/lumenlabs/lumen/internal/types"
)

// Core types for working with player state
type (
	Player   = types.Player
	Class    = types.Class
	Resource = types.Resource
	Result   = resource.Result
)

// Class constants
const (
	ClassVanguard = types.ClassVanguard
	ClassMystic   = types.ClassMystic
	ClassWarden   = types.ClassWarden
)

// Resource constants
const (
	ResourceLumees     = types.ResourceLumees
	ResourceGrace      = types.ResourceGrace
	ResourceCrystals   = types.ResourceCrystals
	ResourceEnergy     = types.ResourceEnergy
	ResourceStamina    = types.ResourceStamina
	ResourceSurvivalHP = types.ResourceSurvivalHP
	ResourceCharges    = types.ResourceCharges
	ResourceXP         = types.ResourceXP
)

// Error taxonomy surfaced to callers
type (
	InsufficientResourcesError = resource.InsufficientResourcesError
	InvalidOperationError      = types.InvalidOperationError
)

var (
	ErrNotFound    = storage.ErrNotFound
	ErrCircuitOpen = resilience.ErrCircuitOpen
	ErrLockTimeout = memstore.ErrLockTimeout
)

// Core is the constructed service graph.
type Core = core.Core

// New loads static configuration from the environment and builds the
// service graph. Call Start on the result, and Shutdown when done.
func New(ctx context.Context) (*Core, error) {
	static, err := config.LoadStatic()
	if err != nil {
		return nil, err
	}
	return core.New(ctx, static)
}

// NewWithConfig builds the service graph from an already-loaded static
// configuration.
func NewWithConfig(ctx context.Context, static *config.Static) (*Core, error) {
	return core.New(ctx, static)
}
