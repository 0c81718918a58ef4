package world

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openrealm/server/internal/cache"
)

func TestSpawnAndLookup(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	goblin := tw.catalog.Entities.Get(77)

	e, err := tw.Entities.Spawn(ctx, goblin, "overworld", 8, 8, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 12, e.CurrentHP)
	require.Equal(t, EntityIdle, e.State)
	require.Equal(t, 30, e.RespawnDelay)

	got, err := tw.Entities.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.EqualValues(t, 77, got.DefID)
	require.Equal(t, 8, got.SpawnX)
	require.Equal(t, 3, got.SpawnPointID)
	require.Equal(t, goblin, tw.Entities.Def(got))

	missing, err := tw.Entities.Get(ctx, 9999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSpawnPointDelayOverridesDef(t *testing.T) {
	tw := newTestWorld(t)
	e, err := tw.Entities.Spawn(context.Background(), tw.catalog.Entities.Get(78), "overworld", 2, 2, 1, 90)
	require.NoError(t, err)
	require.Equal(t, 90, e.RespawnDelay)
}

func TestEntitiesOnMap(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	goblin := tw.catalog.Entities.Get(77)

	a, err := tw.Entities.Spawn(ctx, goblin, "overworld", 1, 1, 1, 0)
	require.NoError(t, err)
	_, err = tw.Entities.Spawn(ctx, goblin, "cavern", 2, 2, 2, 0)
	require.NoError(t, err)

	on, err := tw.Entities.EntitiesOnMap(ctx, "overworld")
	require.NoError(t, err)
	require.Len(t, on, 1)
	require.Equal(t, a.ID, on[0].ID)

	// Removal takes it off the map set but keeps the hash for respawn.
	require.NoError(t, tw.Entities.Remove(ctx, a.ID, "overworld"))
	on, err = tw.Entities.EntitiesOnMap(ctx, "overworld")
	require.NoError(t, err)
	require.Empty(t, on)
	still, err := tw.Entities.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, still)
}

func TestEntityFieldWrites(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	e, err := tw.Entities.Spawn(ctx, tw.catalog.Entities.Get(77), "overworld", 4, 4, 1, 0)
	require.NoError(t, err)

	require.NoError(t, tw.Entities.SetPosition(ctx, e.ID, 5, 4))
	require.NoError(t, tw.Entities.SetTarget(ctx, e.ID, 6))
	require.NoError(t, tw.Entities.SetState(ctx, e.ID, EntityWalk))
	require.NoError(t, tw.Entities.SetFields(ctx, e.ID, "last_attack_tick", 120))

	got, err := tw.Entities.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.X)
	require.EqualValues(t, 6, got.TargetPlayerID)
	require.Equal(t, EntityWalk, got.State)
	require.EqualValues(t, 120, got.LastAttackTick)
}

func TestApplyDamageKillsAtZero(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	e, err := tw.Entities.Spawn(ctx, tw.catalog.Entities.Get(77), "overworld", 4, 4, 1, 0)
	require.NoError(t, err)
	require.NoError(t, tw.Entities.SetTarget(ctx, e.ID, 6))

	hp, dealt, died, err := tw.Entities.ApplyDamage(ctx, e.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 7, hp)
	require.Equal(t, 5, dealt)
	require.False(t, died)

	// Overkill clamps; the kill flips state and drops the target atomically.
	hp, dealt, died, err = tw.Entities.ApplyDamage(ctx, e.ID, 50)
	require.NoError(t, err)
	require.Zero(t, hp)
	require.Equal(t, 7, dealt)
	require.True(t, died)

	got, err := tw.Entities.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, EntityDying, got.State)
	require.Zero(t, got.TargetPlayerID)

	// Dying instances take no further damage.
	_, _, _, err = tw.Entities.ApplyDamage(ctx, e.ID, 3)
	require.ErrorIs(t, err, cache.ErrDead)

	_, _, _, err = tw.Entities.ApplyDamage(ctx, 9999, 3)
	require.ErrorIs(t, err, ErrEntityGone)
}

func TestRespawnQueue(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	e, err := tw.Entities.Spawn(ctx, tw.catalog.Entities.Get(77), "overworld", 4, 4, 1, 0)
	require.NoError(t, err)
	_, _, _, err = tw.Entities.ApplyDamage(ctx, e.ID, 99)
	require.NoError(t, err)
	require.NoError(t, tw.Entities.SetState(ctx, e.ID, EntityDead))
	require.NoError(t, tw.Entities.Remove(ctx, e.ID, "overworld"))

	when := float64(tw.clk.Now().Add(30*time.Second).UnixNano()) / 1e9
	require.NoError(t, tw.Entities.ScheduleRespawn(ctx, e.ID, when))

	due, err := tw.Entities.DueRespawns(ctx)
	require.NoError(t, err)
	require.Empty(t, due)

	tw.clk.Advance(31 * time.Second)
	due, err = tw.Entities.DueRespawns(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{e.ID}, due)

	// Popping is destructive; a second sweep finds nothing.
	due, err = tw.Entities.DueRespawns(ctx)
	require.NoError(t, err)
	require.Empty(t, due)

	revived, err := tw.Entities.Respawn(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 4, revived.X)
	require.Equal(t, 12, revived.CurrentHP)
	require.Equal(t, EntityIdle, revived.State)

	on, err := tw.Entities.EntitiesOnMap(ctx, "overworld")
	require.NoError(t, err)
	require.Len(t, on, 1)
}

func TestRespawnMissingEntity(t *testing.T) {
	tw := newTestWorld(t)
	_, err := tw.Entities.Respawn(context.Background(), 12345)
	require.ErrorIs(t, err, ErrEntityGone)
}
