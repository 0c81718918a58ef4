package scripting

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine("../../scripts", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestXPCurve(t *testing.T) {
	e := newTestEngine(t)

	require.EqualValues(t, 0, e.XPForLevel(1))
	require.EqualValues(t, 83, e.XPForLevel(2))
	require.EqualValues(t, 174, e.XPForLevel(3))

	require.Equal(t, 1, e.LevelFromXP(0))
	require.Equal(t, 1, e.LevelFromXP(82))
	require.Equal(t, 2, e.LevelFromXP(83))

	for _, lvl := range []int{2, 10, 50, 99} {
		xp := e.XPForLevel(lvl)
		require.Equal(t, lvl, e.LevelFromXP(xp), "level %d", lvl)
		require.Equal(t, lvl-1, e.LevelFromXP(xp-1), "level %d boundary", lvl)
	}

	// The curve is monotonic.
	prev := int64(-1)
	for lvl := 1; lvl <= 99; lvl++ {
		xp := e.XPForLevel(lvl)
		require.Greater(t, xp, prev)
		prev = xp
	}
}

func TestCalcAttack(t *testing.T) {
	e := newTestEngine(t)

	// A zero hit roll always connects and deals at least 1 damage.
	res := e.CalcAttack(AttackContext{
		AttackLevel: 1, StrengthLevel: 1, WeaponBonus: 0,
		DefenceLevel: 1, ArmourBonus: 0,
		RollHit: 0, RollDamage: 0,
	})
	require.True(t, res.IsHit)
	require.Equal(t, 1, res.Damage)

	// Weak attacker against a tank with a high roll misses.
	res = e.CalcAttack(AttackContext{
		AttackLevel: 1, StrengthLevel: 1, WeaponBonus: 0,
		DefenceLevel: 99, ArmourBonus: 50,
		RollHit: 0.9, RollDamage: 0.5,
	})
	require.False(t, res.IsHit)
	require.Equal(t, 0, res.Damage)

	// Damage scales with strength and weapon but never exceeds the max hit.
	maxSeen := 0
	for _, roll := range []float64{0.0, 0.25, 0.5, 0.75, 0.999} {
		res = e.CalcAttack(AttackContext{
			AttackLevel: 60, StrengthLevel: 60, WeaponBonus: 20,
			DefenceLevel: 10, ArmourBonus: 5,
			RollHit: 0, RollDamage: roll,
		})
		require.True(t, res.IsHit)
		require.GreaterOrEqual(t, res.Damage, 1)
		if res.Damage > maxSeen {
			maxSeen = res.Damage
		}
	}
	// max_hit = floor(0.5 + (60+8)*(20+64)/640) = 9
	require.Equal(t, 9, maxSeen)
}

func TestCalcEntityAttack(t *testing.T) {
	e := newTestEngine(t)

	res := e.CalcEntityAttack(EntityAttackContext{
		EntityDamage: 2,
		DefenceLevel: 1, ArmourBonus: 0,
		RollHit: 0, RollDamage: 0.999,
	})
	require.True(t, res.IsHit)
	require.Equal(t, 2, res.Damage)

	res = e.CalcEntityAttack(EntityAttackContext{
		EntityDamage: 1,
		DefenceLevel: 99, ArmourBonus: 60,
		RollHit: 0.95, RollDamage: 0.5,
	})
	require.False(t, res.IsHit)
}

func TestCalcDurabilityLoss(t *testing.T) {
	e := newTestEngine(t)

	loss := e.CalcDurabilityLoss(DurabilityContext{
		DamageDealt: 5, Durability: 40, MaxDurability: 100, Roll: 0.0,
	})
	require.Equal(t, 1, loss)

	loss = e.CalcDurabilityLoss(DurabilityContext{
		DamageDealt: 5, Durability: 40, MaxDurability: 100, Roll: 0.9,
	})
	require.Equal(t, 0, loss)

	// Items without durability never wear.
	loss = e.CalcDurabilityLoss(DurabilityContext{
		DamageDealt: 5, Durability: 0, MaxDurability: 0, Roll: 0.0,
	})
	require.Equal(t, 0, loss)
}

func TestEntityAI(t *testing.T) {
	e := newTestEngine(t)

	base := AIContext{
		EntityID: 77, State: "walk", X: 10, Y: 10,
		Behavior: "aggressive", AggroRadius: 8, DisengageRadius: 16,
		AttackRange: 1, WanderRadius: 4, WanderChance: 0.15,
	}

	// Target dragged past the leash range from spawn. The entity may be
	// right next to it; what matters is how far the target is from spawn.
	ctx := base
	ctx.TargetID = 3
	ctx.TargetDist = 1
	ctx.TargetSpawnDist = 17
	require.Equal(t, "leash", e.EntityAI(ctx).Action)

	// Adjacent and off cooldown: swing.
	ctx = base
	ctx.TargetID = 3
	ctx.TargetDist = 1
	ctx.CanAttack = true
	require.Equal(t, "attack", e.EntityAI(ctx).Action)

	// Adjacent but on cooldown: hold.
	ctx.CanAttack = false
	require.Equal(t, "idle", e.EntityAI(ctx).Action)

	// In aggro range but not adjacent: close the gap.
	ctx = base
	ctx.TargetID = 3
	ctx.TargetDist = 5
	require.Equal(t, "chase", e.EntityAI(ctx).Action)

	// A distant entity whose target stayed near spawn keeps chasing; only
	// the target leaving the disengage circle breaks pursuit.
	ctx.TargetDist = 20
	ctx.TargetSpawnDist = 10
	require.Equal(t, "chase", e.EntityAI(ctx).Action)

	// Guards never leave their post.
	ctx.Behavior = "guard"
	require.Equal(t, "idle", e.EntityAI(ctx).Action)

	// No target, wander roll under the chance: take a step.
	ctx = base
	ctx.WanderRoll = 0.05
	ctx.DirRoll = 2
	dec := e.EntityAI(ctx)
	require.Equal(t, "wander", dec.Action)
	require.Equal(t, -1, dec.DX)
	require.Equal(t, 0, dec.DY)

	// No target, roll over the chance: stand still.
	ctx.WanderRoll = 0.5
	require.Equal(t, "idle", e.EntityAI(ctx).Action)
}
