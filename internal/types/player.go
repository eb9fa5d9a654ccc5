// Package types holds the domain value types shared across the core: the
// player aggregate, resource kinds, and domain-level errors.
package types

import (
	"fmt"
	"time"
)

// Class is the player's class tag.
type Class string

const (
	ClassVanguard Class = "vanguard"
	ClassMystic   Class = "mystic"
	ClassWarden   Class = "warden"
)

// Resource identifies a grantable/consumable player resource.
type Resource string

const (
	ResourceLumees     Resource = "lumees"
	ResourceGrace      Resource = "grace"
	ResourceCrystals   Resource = "crystals"
	ResourceEnergy     Resource = "energy"
	ResourceStamina    Resource = "stamina"
	ResourceSurvivalHP Resource = "survival_hp"
	ResourceCharges    Resource = "charges"
	ResourceXP         Resource = "xp"
)

// Consumable base values and per-allocation-point growth rates. A player's
// max_energy is BaseEnergy + points(energy)*RateEnergy, and analogously for
// stamina and survival HP.
const (
	BaseEnergy     = 100
	RateEnergy     = 10
	BaseStamina    = 50
	RateStamina    = 5
	BaseSurvivalHP = 200
	RateSurvivalHP = 20
)

// StatPointsPerLevel is granted on every level-up past level 1.
const StatPointsPerLevel = 5

// CurrencyCeiling bounds the nominally uncapped currencies.
const CurrencyCeiling int64 = 999_999_999_999

// DefaultGraceCap is the fallback hard cap on grace when dynamic config does
// not provide one.
const DefaultGraceCap int64 = 999_999

// MaxCharges bounds the drop-charge counter.
const MaxCharges int64 = 1

// IsCurrency reports whether r is one of the three currency balances.
func (r Resource) IsCurrency() bool {
	return r == ResourceLumees || r == ResourceGrace || r == ResourceCrystals
}

// IsConsumable reports whether r regenerates toward a per-player max.
func (r Resource) IsConsumable() bool {
	return r == ResourceEnergy || r == ResourceStamina || r == ResourceSurvivalHP || r == ResourceCharges
}

// InvalidOperationError reports a business-rule violation, e.g. fusing
// mismatched tiers. Never retried.
type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s: %s", e.Op, e.Reason)
}

// Player is the aggregate root of all in-game state. It is mutated only
// under a pessimistic row lock held inside an open database transaction,
// with a per-player distributed lock held around the transaction.
type Player struct {
	ID         int64 `json:"id" db:"id"`
	ExternalID int64 `json:"external_id" db:"external_id"`

	Level int   `json:"level" db:"level"`
	XP    int64 `json:"xp" db:"xp"`

	Lumees   int64 `json:"lumees" db:"lumees"`
	Grace    int64 `json:"grace" db:"grace"`
	Crystals int64 `json:"crystals" db:"crystals"`

	Energy        int64 `json:"energy" db:"energy"`
	MaxEnergy     int64 `json:"max_energy" db:"max_energy"`
	Stamina       int64 `json:"stamina" db:"stamina"`
	MaxStamina    int64 `json:"max_stamina" db:"max_stamina"`
	SurvivalHP    int64 `json:"survival_hp" db:"survival_hp"`
	MaxSurvivalHP int64 `json:"max_survival_hp" db:"max_survival_hp"`

	Charges       int64      `json:"charges" db:"charges"`
	ChargeRegenAt *time.Time `json:"charge_regen_at,omitempty" db:"charge_regen_at"`

	StatPointsAvailable int            `json:"stat_points_available" db:"stat_points_available"`
	StatAllocations     map[string]int `json:"stat_allocations" db:"-"`

	FusionShards map[int]int64 `json:"fusion_shards" db:"-"`

	Power int64 `json:"power" db:"power"`
	Class Class `json:"class" db:"class"`

	// Leader assignment, empty base means no leader.
	LeaderBase string `json:"leader_base" db:"leader_base"`
	LeaderTier int    `json:"leader_tier" db:"leader_tier"`

	Statistics map[string]int64 `json:"statistics" db:"-"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastActive  time.Time  `json:"last_active" db:"last_active"`
	LastLevelUp *time.Time `json:"last_level_up,omitempty" db:"last_level_up"`
}

// NewPlayer returns a level-1 aggregate for a player seen for the first time.
func NewPlayer(externalID int64, class Class) *Player {
	now := time.Now().UTC()
	p := &Player{
		ExternalID:      externalID,
		Level:           1,
		Class:           class,
		Charges:         MaxCharges,
		StatAllocations: map[string]int{},
		FusionShards:    map[int]int64{},
		Statistics:      map[string]int64{},
		CreatedAt:       now,
		LastActive:      now,
	}
	p.RecalculateMaxes()
	p.Energy = p.MaxEnergy
	p.Stamina = p.MaxStamina
	p.SurvivalHP = p.MaxSurvivalHP
	return p
}

// RecalculateMaxes rederives the consumable maxima from the stat allocations.
func (p *Player) RecalculateMaxes() {
	p.MaxEnergy = int64(BaseEnergy + p.StatAllocations["energy"]*RateEnergy)
	p.MaxStamina = int64(BaseStamina + p.StatAllocations["stamina"]*RateStamina)
	p.MaxSurvivalHP = int64(BaseSurvivalHP + p.StatAllocations["survival_hp"]*RateSurvivalHP)
}

// Balance returns the current amount of the given resource.
func (p *Player) Balance(r Resource) int64 {
	switch r {
	case ResourceLumees:
		return p.Lumees
	case ResourceGrace:
		return p.Grace
	case ResourceCrystals:
		return p.Crystals
	case ResourceEnergy:
		return p.Energy
	case ResourceStamina:
		return p.Stamina
	case ResourceSurvivalHP:
		return p.SurvivalHP
	case ResourceCharges:
		return p.Charges
	case ResourceXP:
		return p.XP
	}
	return 0
}

// MaxFor returns the saturation ceiling for the given resource. Grace takes
// its cap from dynamic config; callers pass the configured value through the
// resource service, so here grace reports the default cap.
func (p *Player) MaxFor(r Resource) int64 {
	switch r {
	case ResourceEnergy:
		return p.MaxEnergy
	case ResourceStamina:
		return p.MaxStamina
	case ResourceSurvivalHP:
		return p.MaxSurvivalHP
	case ResourceCharges:
		return MaxCharges
	case ResourceGrace:
		return DefaultGraceCap
	}
	return CurrencyCeiling
}

// SetBalance overwrites the stored amount for the given resource. Callers are
// responsible for cap handling; the resource service is the only writer.
func (p *Player) SetBalance(r Resource, v int64) {
	switch r {
	case ResourceLumees:
		p.Lumees = v
	case ResourceGrace:
		p.Grace = v
	case ResourceCrystals:
		p.Crystals = v
	case ResourceEnergy:
		p.Energy = v
	case ResourceStamina:
		p.Stamina = v
	case ResourceSurvivalHP:
		p.SurvivalHP = v
	case ResourceCharges:
		p.Charges = v
	case ResourceXP:
		p.XP = v
	}
}

// HasLeader reports whether the player has a leader assignment.
func (p *Player) HasLeader() bool {
	return p.LeaderBase != ""
}

// AllocateStat spends available stat points on a named stat and rederives
// the consumable maxima.
func (p *Player) AllocateStat(name string, points int) error {
	if points <= 0 {
		return &InvalidOperationError{Op: "allocate_stat", Reason: "points must be positive"}
	}
	if points > p.StatPointsAvailable {
		return &InvalidOperationError{
			Op:     "allocate_stat",
			Reason: fmt.Sprintf("need %d points, have %d", points, p.StatPointsAvailable),
		}
	}
	if p.StatAllocations == nil {
		p.StatAllocations = map[string]int{}
	}
	p.StatAllocations[name] += points
	p.StatPointsAvailable -= points
	p.RecalculateMaxes()
	return nil
}

// LevelUp advances the player one level and grants stat points.
func (p *Player) LevelUp() {
	p.Level++
	p.StatPointsAvailable += StatPointsPerLevel
	now := time.Now().UTC()
	p.LastLevelUp = &now
}

// AddShards credits fusion shards of the given tier.
func (p *Player) AddShards(tier int, count int64) error {
	if tier <= 0 || count <= 0 {
		return &InvalidOperationError{Op: "add_shards", Reason: "tier and count must be positive"}
	}
	if p.FusionShards == nil {
		p.FusionShards = map[int]int64{}
	}
	p.FusionShards[tier] += count
	return nil
}

// SpendShards debits fusion shards of the given tier, refusing to go negative.
func (p *Player) SpendShards(tier int, count int64) error {
	if count <= 0 {
		return &InvalidOperationError{Op: "spend_shards", Reason: "count must be positive"}
	}
	have := p.FusionShards[tier]
	if have < count {
		return &InvalidOperationError{
			Op:     "spend_shards",
			Reason: fmt.Sprintf("tier %d: need %d shards, have %d", tier, count, have),
		}
	}
	p.FusionShards[tier] = have - count
	return nil
}

// BumpStat increments a cumulative statistics counter.
func (p *Player) BumpStat(name string, delta int64) {
	if p.Statistics == nil {
		p.Statistics = map[string]int64{}
	}
	p.Statistics[name] += delta
}

// RegenerateCharge restores the drop charge once the regeneration timestamp
// has passed. Returns true when a charge was restored. Must be called under
// the caller's player lock.
func (p *Player) RegenerateCharge(now time.Time) bool {
	if p.Charges >= MaxCharges {
		return false
	}
	if p.ChargeRegenAt == nil || now.Before(*p.ChargeRegenAt) {
		return false
	}
	p.Charges = MaxCharges
	p.ChargeRegenAt = nil
	return true
}
