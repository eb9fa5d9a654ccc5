// Package resource is the only component permitted to mutate player
// currencies and consumables. Every mutation is audited.
//
// The service takes no locks itself. Callers must hold the per-player
// distributed lock and have row-locked the aggregate inside an open
// database transaction before passing it in; violating this is a
// correctness bug, not a runtime error. After a successful mutation the
// caller invalidates the player's tagged cache entries.
package resource

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/lumenlabs/lumen/internal/audit"
	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/storage"
	"github.com/lumenlabs/lumen/internal/types"
)

// InsufficientResourcesError reports a consume that would drive a balance
// negative. Nothing was mutated. Never retried automatically.
type InsufficientResourcesError struct {
	Resource types.Resource
	Required int64
	Current  int64
}

func (e *InsufficientResourcesError) Error() string {
	return fmt.Sprintf("insufficient %s: need %d, have %d", e.Resource, e.Required, e.Current)
}

// Modifiers are the multiplicative grant factors. Neutral is 1.0.
type Modifiers struct {
	IncomeBoost float64 `json:"income_boost"`
	XPBoost     float64 `json:"xp_boost"`
}

// Config is the dynamic-config surface the service reads. Satisfied by
// *config.Dynamic.
type Config interface {
	GetFloat(path string, def float64) float64
	GetInt64(path string, def int64) int64
}

// Service applies resource grants and consumes to a row-locked aggregate.
type Service struct {
	cfg      Config
	audit    *audit.Logger
	graceCap int64
	log      zerolog.Logger
}

// NewService builds the resource service. graceCap is the saturation
// ceiling used when dynamic config carries no resource_caps.grace entry;
// non-positive values fall back to the built-in default.
func NewService(cfg Config, auditLog *audit.Logger, graceCap int64) *Service {
	if graceCap <= 0 {
		graceCap = types.DefaultGraceCap
	}
	return &Service{
		cfg:      cfg,
		audit:    auditLog,
		graceCap: graceCap,
		log:      logging.WithComponent("resource"),
	}
}

// Result describes one applied grant or consume.
type Result struct {
	// Deltas are the actual per-resource balance changes, after modifiers
	// and caps. Negative on consume.
	Deltas map[types.Resource]int64
	// CapsHit names capped currencies that saturated.
	CapsHit []string
	// Modifiers are the factors applied; neutral when disabled.
	Modifiers Modifiers
}

// CalculateModifiers derives the player's grant multipliers. Early-exit to
// neutral when the player has no leader assignment; otherwise the leader's
// configured boosts compose multiplicatively with the class boosts.
func (s *Service) CalculateModifiers(p *types.Player) Modifiers {
	m := Modifiers{IncomeBoost: 1, XPBoost: 1}
	if !p.HasLeader() {
		return m
	}

	leaderPath := fmt.Sprintf("leader_bonuses.%s.%d", p.LeaderBase, p.LeaderTier)
	m.IncomeBoost *= s.cfg.GetFloat(leaderPath+".income_boost", 1)
	m.XPBoost *= s.cfg.GetFloat(leaderPath+".xp_boost", 1)

	classPath := "class_modifiers." + string(p.Class)
	m.IncomeBoost *= s.cfg.GetFloat(classPath+".income_boost", 1)
	m.XPBoost *= s.cfg.GetFloat(classPath+".xp_boost", 1)
	return m
}

// multiplierFor picks which factor applies to a resource kind. Consumables
// never take modifiers.
func multiplierFor(r types.Resource, m Modifiers) float64 {
	switch {
	case r == types.ResourceXP:
		return m.XPBoost
	case r.IsCurrency():
		return m.IncomeBoost
	}
	return 1
}

// capFor resolves the saturation ceiling. The grace cap comes from dynamic
// config; consumables cap at the player's maxima.
func (s *Service) capFor(p *types.Player, r types.Resource) int64 {
	if r == types.ResourceGrace {
		return s.cfg.GetInt64("resource_caps.grace", s.graceCap)
	}
	return p.MaxFor(r)
}

// Grant credits resources. With modifiers enabled each credited amount is
// floor(base * multiplier); the capped currency saturates and reports
// caps_hit, consumables saturate at the player's maxima silently. One
// audit event covers the whole call; its failure aborts the grant so the
// enclosing transaction rolls back.
func (s *Service) Grant(ctx context.Context, p *types.Player, resources map[types.Resource]int64, source string, applyModifiers bool, auditCtx string) (*Result, error) {
	if err := validateAmounts("grant", resources); err != nil {
		return nil, err
	}

	mods := Modifiers{IncomeBoost: 1, XPBoost: 1}
	if applyModifiers {
		mods = s.CalculateModifiers(p)
	}

	before := snapshot(p, resources)
	result := &Result{Deltas: map[types.Resource]int64{}, Modifiers: mods}

	for r, base := range resources {
		old := p.Balance(r)
		credit := int64(math.Floor(float64(base) * multiplierFor(r, mods)))

		ceiling := s.capFor(p, r)
		next := old + credit
		if next > ceiling {
			next = ceiling
			if r == types.ResourceGrace {
				result.CapsHit = append(result.CapsHit, string(r))
			}
		}
		p.SetBalance(r, next)
		result.Deltas[r] = next - old
	}

	if err := s.emit(ctx, p, "resource_grant", source, auditCtx, before, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Consume debits resources in two phases: verify everything first, then
// debit in a single pass. A shortfall raises InsufficientResources with no
// field of the aggregate changed.
func (s *Service) Consume(ctx context.Context, p *types.Player, resources map[types.Resource]int64, source string, auditCtx string) (*Result, error) {
	if err := validateAmounts("consume", resources); err != nil {
		return nil, err
	}

	for r, amount := range resources {
		if current := p.Balance(r); current < amount {
			return nil, &InsufficientResourcesError{Resource: r, Required: amount, Current: current}
		}
	}

	before := snapshot(p, resources)
	result := &Result{Deltas: map[types.Resource]int64{}, Modifiers: Modifiers{IncomeBoost: 1, XPBoost: 1}}
	for r, amount := range resources {
		old := p.Balance(r)
		p.SetBalance(r, old-amount)
		result.Deltas[r] = -amount
	}

	if err := s.emit(ctx, p, "resource_consume", source, auditCtx, before, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Check reports whether every requested amount is available. Read-only,
// no audit.
func (s *Service) Check(p *types.Player, resources map[types.Resource]int64) bool {
	for r, amount := range resources {
		if p.Balance(r) < amount {
			return false
		}
	}
	return true
}

// GrantOnce is Grant behind the reward-claim ledger: the first call with a
// given (claimType, claimKey) grants and records, any repeat is a no-op
// reporting granted=false. Must run inside the caller's transaction so a
// failed grant also rolls the claim row back.
func (s *Service) GrantOnce(ctx context.Context, tx storage.Transaction, p *types.Player, claimType, claimKey string, resources map[types.Resource]int64, source string, auditCtx string) (bool, *Result, error) {
	inserted, err := tx.InsertRewardClaim(ctx, p.ID, claimType, claimKey)
	if err != nil {
		return false, nil, err
	}
	if !inserted {
		logging.Ctx(ctx, s.log).Debug().
			Int64("player_id", p.ID).
			Str("claim_type", claimType).
			Str("claim_key", claimKey).
			Msg("duplicate reward claim ignored")
		return false, nil, nil
	}

	result, err := s.Grant(ctx, p, resources, source, true, auditCtx)
	if err != nil {
		return false, nil, err
	}

	granted := map[string]any{}
	for r, d := range result.Deltas {
		granted[string(r)] = d
	}
	err = s.audit.Log(ctx, p.ID, "reward_claimed", map[string]any{
		"claim_type": claimType,
		"claim_key":  claimKey,
		"granted":    granted,
	}, audit.Options{Context: auditCtx})
	if err != nil {
		return false, nil, err
	}
	return true, result, nil
}

// emit publishes the combined audit event for one grant/consume call.
func (s *Service) emit(ctx context.Context, p *types.Player, txnType, source, auditCtx string, before map[types.Resource]int64, result *Result) error {
	after := map[string]any{}
	beforeAny := map[string]any{}
	deltas := map[string]any{}
	for r := range result.Deltas {
		beforeAny[string(r)] = before[r]
		after[string(r)] = p.Balance(r)
		deltas[string(r)] = result.Deltas[r]
	}

	details := map[string]any{
		"source": source,
		"before": beforeAny,
		"after":  after,
		"deltas": deltas,
		"modifiers_applied": map[string]any{
			"income_boost": result.Modifiers.IncomeBoost,
			"xp_boost":     result.Modifiers.XPBoost,
		},
	}
	if len(result.CapsHit) > 0 {
		details["caps_hit"] = result.CapsHit
	}
	return s.audit.Log(ctx, p.ID, txnType, details, audit.Options{Context: auditCtx})
}

func validateAmounts(op string, resources map[types.Resource]int64) error {
	if len(resources) == 0 {
		return &types.InvalidOperationError{Op: op, Reason: "no resources given"}
	}
	for r, amount := range resources {
		if amount <= 0 {
			return &types.InvalidOperationError{
				Op:     op,
				Reason: fmt.Sprintf("%s amount must be positive, got %d", r, amount),
			}
		}
	}
	return nil
}

func snapshot(p *types.Player, resources map[types.Resource]int64) map[types.Resource]int64 {
	out := make(map[types.Resource]int64, len(resources))
	for r := range resources {
		out[r] = p.Balance(r)
	}
	return out
}
