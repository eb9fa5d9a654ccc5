package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPlayerStartsFull(t *testing.T) {
	p := NewPlayer(555, ClassVanguard)
	require.Equal(t, 1, p.Level)
	require.EqualValues(t, BaseEnergy, p.MaxEnergy)
	require.Equal(t, p.MaxEnergy, p.Energy)
	require.Equal(t, p.MaxStamina, p.Stamina)
	require.Equal(t, p.MaxSurvivalHP, p.SurvivalHP)
	require.EqualValues(t, MaxCharges, p.Charges)
}

func TestAllocateStatGrowsMaxes(t *testing.T) {
	p := NewPlayer(555, ClassMystic)
	p.StatPointsAvailable = 10

	require.NoError(t, p.AllocateStat("energy", 3))
	require.EqualValues(t, BaseEnergy+3*RateEnergy, p.MaxEnergy)
	require.Equal(t, 7, p.StatPointsAvailable)

	err := p.AllocateStat("stamina", 8)
	var invalid *InvalidOperationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 7, p.StatPointsAvailable, "failed allocation spends nothing")

	require.Error(t, p.AllocateStat("energy", 0))
}

func TestLevelUpGrantsPoints(t *testing.T) {
	p := NewPlayer(555, ClassWarden)
	p.LevelUp()
	require.Equal(t, 2, p.Level)
	require.Equal(t, StatPointsPerLevel, p.StatPointsAvailable)
	require.NotNil(t, p.LastLevelUp)
}

func TestShardAccounting(t *testing.T) {
	p := NewPlayer(555, ClassMystic)

	require.NoError(t, p.AddShards(2, 5))
	require.NoError(t, p.SpendShards(2, 3))
	require.EqualValues(t, 2, p.FusionShards[2])

	var invalid *InvalidOperationError
	require.ErrorAs(t, p.SpendShards(2, 3), &invalid)
	require.EqualValues(t, 2, p.FusionShards[2])
	require.ErrorAs(t, p.AddShards(0, 1), &invalid)
	require.ErrorAs(t, p.AddShards(1, -1), &invalid)
}

func TestBalanceRoundTrip(t *testing.T) {
	p := NewPlayer(555, ClassVanguard)
	all := []Resource{
		ResourceLumees, ResourceGrace, ResourceCrystals, ResourceEnergy,
		ResourceStamina, ResourceSurvivalHP, ResourceCharges, ResourceXP,
	}
	for i, r := range all {
		p.SetBalance(r, int64(i+1))
		require.EqualValues(t, i+1, p.Balance(r), "resource %s", r)
	}
}

func TestRegenerateCharge(t *testing.T) {
	p := NewPlayer(555, ClassVanguard)
	now := time.Now().UTC()

	require.False(t, p.RegenerateCharge(now), "full charges never regenerate")

	p.Charges = 0
	require.False(t, p.RegenerateCharge(now), "no timestamp set")

	future := now.Add(time.Minute)
	p.ChargeRegenAt = &future
	require.False(t, p.RegenerateCharge(now), "not due yet")

	past := now.Add(-time.Minute)
	p.ChargeRegenAt = &past
	require.True(t, p.RegenerateCharge(now))
	require.EqualValues(t, MaxCharges, p.Charges)
	require.Nil(t, p.ChargeRegenAt)
}

func TestResourceKinds(t *testing.T) {
	require.True(t, ResourceLumees.IsCurrency())
	require.True(t, ResourceGrace.IsCurrency())
	require.False(t, ResourceEnergy.IsCurrency())
	require.True(t, ResourceEnergy.IsConsumable())
	require.True(t, ResourceCharges.IsConsumable())
	require.False(t, ResourceXP.IsConsumable())
}
