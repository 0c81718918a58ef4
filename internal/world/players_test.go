package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
)

func TestOnlineRegistry(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	online, err := tw.Players.IsOnline(ctx, 7)
	require.NoError(t, err)
	require.False(t, online)

	require.NoError(t, tw.Players.RegisterOnline(ctx, 7, "Alice"))
	online, err = tw.Players.IsOnline(ctx, 7)
	require.NoError(t, err)
	require.True(t, online)

	// Second login for the same id is rejected.
	require.ErrorIs(t, tw.Players.RegisterOnline(ctx, 7, "Alice"), ErrDuplicateOnline)

	name, err := tw.Players.NameOf(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	// Username lookup is case-insensitive.
	id, err := tw.Players.IDOf(ctx, "ALICE")
	require.NoError(t, err)
	require.EqualValues(t, 7, id)

	ids, err := tw.Players.OnlineIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, ids)

	require.NoError(t, tw.Players.UnregisterOnline(ctx, 7))
	online, err = tw.Players.IsOnline(ctx, 7)
	require.NoError(t, err)
	require.False(t, online)
	id, err = tw.Players.IDOf(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestPositionRoundTrip(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)

	pos, err := tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "overworld", pos.MapID)
	require.Equal(t, 5, pos.X)
	require.Equal(t, 5, pos.Y)
	require.Equal(t, data.FacingSouth, pos.Facing)
	require.Zero(t, pos.LastMoveTime)

	require.NoError(t, tw.Players.SetPosition(ctx, 1, "overworld", 6, 5, data.FacingEast, 123.5))
	pos, err = tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 6, pos.X)
	require.Equal(t, data.FacingEast, pos.Facing)
	require.InDelta(t, 123.5, pos.LastMoveTime, 1e-9)
}

func TestNearbyPlayers(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)
	tw.bringOnline(t, 2, "bob", "overworld", 8, 5)
	tw.bringOnline(t, 3, "carol", "overworld", 30, 30)
	tw.bringOnline(t, 4, "dave", "cavern", 5, 5)

	ids, err := tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 5, 5, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)

	// Crossing maps moves the index entry.
	require.NoError(t, tw.Players.SetPosition(ctx, 2, "cavern", 6, 5, data.FacingEast, 1))
	ids, err = tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 5, 5, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
	ids, err = tw.Players.GetNearbyPlayerIDs(ctx, "cavern", 5, 5, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2, 4}, ids)
}

func TestRemoveFromMapIndex(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)

	require.NoError(t, tw.Players.RemoveFromMapIndex(ctx, 1))
	ids, err := tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 5, 5, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	// The state hash survives for the final flush.
	pos, err := tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, pos)
}

func TestHPDamageAndHeal(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)

	hp, err := tw.Players.GetHP(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, &HP{Current: 10, Max: 10}, hp)

	newHP, dealt, err := tw.Players.ApplyDamage(ctx, 1, 4)
	require.NoError(t, err)
	require.Equal(t, 6, newHP)
	require.Equal(t, 4, dealt)

	// Overkill clamps at zero and reports the real amount dealt.
	newHP, dealt, err = tw.Players.ApplyDamage(ctx, 1, 99)
	require.NoError(t, err)
	require.Zero(t, newHP)
	require.Equal(t, 6, dealt)

	cur, err := tw.Players.Heal(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, 7, cur)

	// Healing never exceeds max.
	cur, err = tw.Players.Heal(ctx, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 10, cur)
}

func TestCombatState(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)

	cs, err := tw.Players.GetCombatState(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, cs)

	want := CombatState{TargetType: "entity", TargetID: 42, LastAttackTick: 100, AttackSpeed: 5}
	require.NoError(t, tw.Players.SetCombatState(ctx, 1, want))
	cs, err = tw.Players.GetCombatState(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, &want, cs)

	require.NoError(t, tw.Players.ClearCombatState(ctx, 1))
	cs, err = tw.Players.GetCombatState(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, cs)
}

func TestOfflineHydrationStaysOutOfIndex(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.rows[9] = &persist.PlayerRow{
		ID: 9, Username: "erin", MapID: "overworld", X: 3, Y: 4,
		Facing: data.FacingNorth, CurrentHP: 8, MaxHP: 10,
	}

	// Cache miss falls through to the durable row.
	pos, err := tw.Players.GetPosition(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, 3, pos.X)

	// Offline players never appear in nearby scans.
	ids, err := tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 3, 4, 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestHydrateKeepsWarmCacheOnReconnect(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 3, 3)

	// Live play after the row was last flushed.
	require.NoError(t, tw.Players.SetPosition(ctx, 1, "overworld", 3, 4, data.FacingSouth, 5))
	_, _, err := tw.Players.ApplyDamage(ctx, 1, 3)
	require.NoError(t, err)

	// Disconnect leaves the state hashes behind for the final flush.
	require.NoError(t, tw.Players.MarkAllDirty(ctx, 1))
	require.NoError(t, tw.Players.RemoveFromMapIndex(ctx, 1))
	require.NoError(t, tw.Players.UnregisterOnline(ctx, 1))

	// Reconnect beats the sync cycle: the durable row still says (3,3), 10hp.
	stale := &persist.PlayerRow{
		ID: 1, Username: "alice", MapID: "overworld", X: 3, Y: 3,
		Facing: data.FacingSouth, CurrentHP: 10, MaxHP: 10,
	}
	require.NoError(t, tw.Players.RegisterOnline(ctx, 1, "alice"))
	require.NoError(t, tw.Players.Hydrate(ctx, stale))

	pos, err := tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, pos.X)
	require.Equal(t, 4, pos.Y)
	hp, err := tw.Players.GetHP(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 7, hp.Current)

	// The per-map index entry comes back at the cached coordinates.
	ids, err := tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 3, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestHydrateColdCacheTakesRow(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	require.NoError(t, tw.Players.RegisterOnline(ctx, 1, "alice"))

	row := &persist.PlayerRow{
		ID: 1, Username: "alice", MapID: "overworld", X: 6, Y: 2,
		Facing: data.FacingWest, CurrentHP: 9, MaxHP: 10,
	}
	require.NoError(t, tw.Players.Hydrate(ctx, row))

	pos, err := tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 6, pos.X)
	require.Equal(t, 2, pos.Y)
	hp, err := tw.Players.GetHP(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, &HP{Current: 9, Max: 10}, hp)
	ids, err := tw.Players.GetNearbyPlayerIDs(ctx, "overworld", 6, 2, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestClearDropsAllPlayerKeys(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)
	require.NoError(t, tw.Players.SetCombatState(ctx, 1, CombatState{TargetType: "entity", TargetID: 1}))
	require.NoError(t, tw.Players.UnregisterOnline(ctx, 1))

	require.NoError(t, tw.Players.Clear(ctx, 1))

	// A fresh read now goes to the (empty) durable store.
	pos, err := tw.Players.GetPosition(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestMarkAllDirty(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.bringOnline(t, 1, "alice", "overworld", 5, 5)

	require.NoError(t, tw.Players.MarkAllDirty(ctx, 1))
	for _, cat := range []string{CategoryPositions, CategoryInventories, CategoryEquipment, CategorySkills} {
		members, err := tw.cache.DrainSet(ctx, dirtyKey(cat))
		require.NoError(t, err)
		require.Equal(t, []string{"1"}, members)
	}
}
