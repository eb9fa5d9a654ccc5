package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenlabs/lumen/internal/audit"
	"github.com/lumenlabs/lumen/internal/eventbus"
	"github.com/lumenlabs/lumen/internal/types"
)

type stubConfig map[string]any

func (c stubConfig) GetFloat(path string, def float64) float64 {
	if v, ok := c[path].(float64); ok {
		return v
	}
	return def
}

func (c stubConfig) GetInt64(path string, def int64) int64 {
	if v, ok := c[path].(int64); ok {
		return v
	}
	return def
}

type eventSink struct {
	events []*audit.Event
}

func (s *eventSink) ID() string    { return "sink" }
func (s *eventSink) Priority() int { return 0 }
func (s *eventSink) Handle(_ context.Context, _ eventbus.Topic, payload any) error {
	s.events = append(s.events, payload.(*audit.Event))
	return nil
}

func newTestService(t *testing.T, cfg stubConfig) (*Service, *eventSink) {
	t.Helper()
	bus := eventbus.New()
	sink := &eventSink{}
	bus.Subscribe(eventbus.TopicAuditLogged, sink)
	return NewService(cfg, audit.NewLogger(bus, audit.NewValidator(false)), 0), sink
}

func leaderPlayer() *types.Player {
	p := types.NewPlayer(555, types.ClassMystic)
	p.ID = 7
	p.Lumees = 1000
	p.LeaderBase = "aurora"
	p.LeaderTier = 2
	return p
}

func TestGrantWithLeaderModifier(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{
		"leader_bonuses.aurora.2.income_boost": 1.2,
	})
	p := leaderPlayer()

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceLumees: 100}, "daily", true, "daily_claim")
	require.NoError(t, err)

	require.EqualValues(t, 1120, p.Lumees)
	require.EqualValues(t, 120, result.Deltas[types.ResourceLumees])
	require.Equal(t, 1.2, result.Modifiers.IncomeBoost)
	require.Empty(t, result.CapsHit)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, "resource_grant", ev.TransactionType)
	require.Equal(t, "daily_claim", ev.Context)
	require.Equal(t, int64(120), ev.Details["deltas"].(map[string]any)["lumees"])
	require.Equal(t, 1.2, ev.Details["modifiers_applied"].(map[string]any)["income_boost"])
	require.NotContains(t, ev.Details, "caps_hit")
}

func TestGrantModifiersCompose(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{
		"leader_bonuses.aurora.2.income_boost": 1.2,
		"class_modifiers.mystic.income_boost":  1.5,
	})
	m := svc.CalculateModifiers(leaderPlayer())
	require.InDelta(t, 1.8, m.IncomeBoost, 1e-9)
	require.Equal(t, 1.0, m.XPBoost)
}

func TestModifiersNeutralWithoutLeader(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{
		"class_modifiers.mystic.income_boost": 1.5,
	})
	p := leaderPlayer()
	p.LeaderBase = ""
	m := svc.CalculateModifiers(p)
	require.Equal(t, Modifiers{IncomeBoost: 1, XPBoost: 1}, m)
}

func TestGrantWithoutModifiersCreditsBase(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{
		"leader_bonuses.aurora.2.income_boost": 1.2,
	})
	p := leaderPlayer()

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceLumees: 100}, "admin", false, "admin")
	require.NoError(t, err)
	require.EqualValues(t, 1100, p.Lumees)
	require.EqualValues(t, 100, result.Deltas[types.ResourceLumees])
}

func TestGrantGraceCapsAndReportsHit(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.LeaderBase = ""
	p.Grace = 999_990

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceGrace: 100}, "quest", false, "quest")
	require.NoError(t, err)

	require.EqualValues(t, 999_999, p.Grace)
	require.EqualValues(t, 9, result.Deltas[types.ResourceGrace])
	require.Equal(t, []string{"grace"}, result.CapsHit)

	ev := sink.events[0]
	require.Equal(t, int64(9), ev.Details["deltas"].(map[string]any)["grace"])
	require.Equal(t, []string{"grace"}, ev.Details["caps_hit"])
}

func TestGrantGraceCapFromConfig(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{
		"resource_caps.grace": int64(500),
	})
	p := leaderPlayer()
	p.LeaderBase = ""
	p.Grace = 490

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceGrace: 100}, "quest", false, "quest")
	require.NoError(t, err)
	require.EqualValues(t, 500, p.Grace)
	require.EqualValues(t, 10, result.Deltas[types.ResourceGrace])
}

func TestGrantGraceCapStartupDefault(t *testing.T) {
	// No dynamic entry: the cap handed to the constructor applies.
	bus := eventbus.New()
	svc := NewService(stubConfig{}, audit.NewLogger(bus, audit.NewValidator(false)), 200)
	p := leaderPlayer()
	p.LeaderBase = ""
	p.Grace = 150

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceGrace: 100}, "quest", false, "quest")
	require.NoError(t, err)
	require.EqualValues(t, 200, p.Grace)
	require.EqualValues(t, 50, result.Deltas[types.ResourceGrace])
	require.Equal(t, []string{"grace"}, result.CapsHit)
}

func TestGrantConsumableSaturatesSilently(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.LeaderBase = ""
	p.Energy = 95 // max 100 at zero allocations

	result, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceEnergy: 50}, "potion", false, "item_use")
	require.NoError(t, err)
	require.Equal(t, p.MaxEnergy, p.Energy)
	require.EqualValues(t, 5, result.Deltas[types.ResourceEnergy])
	require.Empty(t, result.CapsHit)
}

func TestConsumeInsufficientLeavesPlayerUntouched(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.Lumees = 50
	p.Energy = 80
	beforeLumees, beforeEnergy := p.Lumees, p.Energy

	_, err := svc.Consume(context.Background(), p,
		map[types.Resource]int64{types.ResourceLumees: 100, types.ResourceEnergy: 10}, "shop", "shop")

	var insufficient *InsufficientResourcesError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, types.ResourceLumees, insufficient.Resource)
	require.EqualValues(t, 100, insufficient.Required)
	require.EqualValues(t, 50, insufficient.Current)

	require.Equal(t, beforeLumees, p.Lumees)
	require.Equal(t, beforeEnergy, p.Energy)
	require.Empty(t, sink.events, "failed consume emits no audit event")
}

func TestConsumeDebitsAllResources(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.Energy = 80

	result, err := svc.Consume(context.Background(), p,
		map[types.Resource]int64{types.ResourceLumees: 100, types.ResourceEnergy: 10}, "shop", "shop")
	require.NoError(t, err)

	require.EqualValues(t, 900, p.Lumees)
	require.EqualValues(t, 70, p.Energy)
	require.EqualValues(t, -100, result.Deltas[types.ResourceLumees])
	require.EqualValues(t, -10, result.Deltas[types.ResourceEnergy])

	require.Len(t, sink.events, 1)
	require.Equal(t, "resource_consume", sink.events[0].TransactionType)
}

func TestCheck(t *testing.T) {
	svc, _ := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.Energy = 10

	require.True(t, svc.Check(p, map[types.Resource]int64{types.ResourceLumees: 1000}))
	require.False(t, svc.Check(p, map[types.Resource]int64{
		types.ResourceLumees: 1000,
		types.ResourceEnergy: 11,
	}))
}

func TestGrantRejectsNonPositiveAmounts(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{})
	p := leaderPlayer()

	_, err := svc.Grant(context.Background(), p,
		map[types.Resource]int64{types.ResourceLumees: -5}, "bad", false, "bad")
	var invalid *types.InvalidOperationError
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, sink.events)

	_, err = svc.Grant(context.Background(), p, nil, "bad", false, "bad")
	require.ErrorAs(t, err, &invalid)
}

type fakeTx struct {
	claims map[string]bool
}

func (f *fakeTx) GetPlayerForUpdate(context.Context, int64) (*types.Player, error) {
	panic("not used")
}
func (f *fakeTx) GetPlayerByExternalIDForUpdate(context.Context, int64) (*types.Player, error) {
	panic("not used")
}
func (f *fakeTx) CreatePlayer(context.Context, *types.Player) error  { return nil }
func (f *fakeTx) UpdatePlayer(context.Context, *types.Player) error  { return nil }
func (f *fakeTx) InsertRewardClaim(_ context.Context, playerID int64, claimType, claimKey string) (bool, error) {
	key := claimType + "/" + claimKey
	if f.claims[key] {
		return false, nil
	}
	if f.claims == nil {
		f.claims = map[string]bool{}
	}
	f.claims[key] = true
	return true, nil
}

func TestGrantOnceIsIdempotent(t *testing.T) {
	svc, sink := newTestService(t, stubConfig{})
	p := leaderPlayer()
	p.LeaderBase = ""
	tx := &fakeTx{}
	grant := map[types.Resource]int64{types.ResourceLumees: 100}

	granted, result, err := svc.GrantOnce(context.Background(), tx, p, "daily", "2025-01-15", grant, "daily", "daily_claim")
	require.NoError(t, err)
	require.True(t, granted)
	require.EqualValues(t, 100, result.Deltas[types.ResourceLumees])
	require.EqualValues(t, 1100, p.Lumees)

	granted, result, err = svc.GrantOnce(context.Background(), tx, p, "daily", "2025-01-15", grant, "daily", "daily_claim")
	require.NoError(t, err)
	require.False(t, granted, "second claim of the same key is a no-op")
	require.Nil(t, result)
	require.EqualValues(t, 1100, p.Lumees, "balance unchanged on duplicate claim")

	// First claim emitted resource_grant + reward_claimed, duplicate nothing.
	require.Len(t, sink.events, 2)
	require.Equal(t, "reward_claimed", sink.events[1].TransactionType)
}
