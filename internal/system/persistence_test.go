package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/persist"
)

type savedState struct {
	mapID     string
	x, y      int
	facing    string
	currentHP int
	maxHP     int
}

// memStore is an in-memory CycleStore. Writes land immediately; Commit only
// counts, so tests can fail it without losing visibility of what was saved.
type memStore struct {
	states      map[int64]savedState
	inventories map[int64][]persist.InventorySlotRow
	equipment   map[int64][]persist.EquipmentSlotRow
	skills      map[int64][]persist.PlayerSkillRow
	ground      map[int64]*persist.GroundItemRow
	deleted     []int64

	begins  int
	commits int

	failBegins int
	stateErr   map[int64]error
	commitErr  error
}

func newMemStore() *memStore {
	return &memStore{
		states:      map[int64]savedState{},
		inventories: map[int64][]persist.InventorySlotRow{},
		equipment:   map[int64][]persist.EquipmentSlotRow{},
		skills:      map[int64][]persist.PlayerSkillRow{},
		ground:      map[int64]*persist.GroundItemRow{},
		stateErr:    map[int64]error{},
	}
}

func (s *memStore) Begin(ctx context.Context) (persist.Cycle, error) {
	s.begins++
	if s.failBegins > 0 {
		s.failBegins--
		return nil, errors.New("store unavailable")
	}
	return &memCycle{store: s}, nil
}

type memCycle struct{ store *memStore }

func (c *memCycle) SavePlayerState(_ context.Context, id int64, mapID string, x, y int, facing string, currentHP, maxHP int) error {
	if err := c.store.stateErr[id]; err != nil {
		return err
	}
	c.store.states[id] = savedState{mapID: mapID, x: x, y: y, facing: facing, currentHP: currentHP, maxHP: maxHP}
	return nil
}

func (c *memCycle) SaveInventory(_ context.Context, id int64, slots []persist.InventorySlotRow) error {
	c.store.inventories[id] = slots
	return nil
}

func (c *memCycle) SaveEquipment(_ context.Context, id int64, slots []persist.EquipmentSlotRow) error {
	c.store.equipment[id] = slots
	return nil
}

func (c *memCycle) SaveSkills(_ context.Context, id int64, rows []persist.PlayerSkillRow) error {
	c.store.skills[id] = rows
	return nil
}

func (c *memCycle) UpsertGroundItem(_ context.Context, row *persist.GroundItemRow) error {
	c.store.ground[row.ID] = row
	return nil
}

func (c *memCycle) DeleteGroundItem(_ context.Context, id int64) error {
	delete(c.store.ground, id)
	c.store.deleted = append(c.store.deleted, id)
	return nil
}

func (c *memCycle) Commit(ctx context.Context) error {
	if err := c.store.commitErr; err != nil {
		return err
	}
	c.store.commits++
	return nil
}

func (c *memCycle) Rollback(ctx context.Context) {}

func (fx *fixture) newSync(store persist.CycleStore) *SyncSystem {
	return NewSyncSystem(context.Background(), fx.cache, fx.world, store,
		fx.catalog.Skills, time.Second, zap.NewNop())
}

func TestSyncFlushWritesDirtyOwners(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	sync := fx.newSync(store)

	fx.login(t, 1, "alice", "arena", 3, 3)
	require.NoError(t, fx.world.Inventory.AddItem(ctx, 1, 50, 5))
	require.NoError(t, fx.world.Players.MarkAllDirty(ctx, 1))

	require.NoError(t, sync.Flush(ctx))
	require.Equal(t, 1, store.commits)

	st := store.states[1]
	require.Equal(t, savedState{mapID: "arena", x: 3, y: 3, facing: "south", currentHP: 10, maxHP: 10}, st)
	require.Len(t, store.inventories[1], 1)
	require.EqualValues(t, 50, store.inventories[1][0].ItemID)
	require.Len(t, store.skills[1], 4)
	require.Empty(t, store.equipment[1])

	// Everything drained, so the next flush opens no cycle.
	require.NoError(t, sync.Flush(ctx))
	require.Equal(t, 1, store.begins)
}

func TestSyncFailedOwnerIsRemarked(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	store.stateErr[1] = errors.New("constraint violation")
	sync := fx.newSync(store)

	fx.login(t, 1, "alice", "arena", 3, 3)
	fx.login(t, 2, "bob", "arena", 4, 4)
	require.NoError(t, fx.world.Players.MarkAllDirty(ctx, 1))
	require.NoError(t, fx.world.Players.MarkAllDirty(ctx, 2))

	// One bad owner does not fail the cycle.
	require.NoError(t, sync.Flush(ctx))
	require.Equal(t, 1, store.commits)
	require.NotContains(t, store.states, int64(1))
	require.Contains(t, store.states, int64(2))

	// Only the failed owner was re-marked, and only in its category.
	dirty, err := fx.cache.DrainSet(ctx, cache.KeyDirtyPositions)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, dirty)
	dirty, err = fx.cache.DrainSet(ctx, cache.KeyDirtyInventories)
	require.NoError(t, err)
	require.Empty(t, dirty)
}

func TestSyncCommitFailureRemarksBatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	store.commitErr = errors.New("connection reset")
	sync := fx.newSync(store)

	fx.login(t, 1, "alice", "arena", 3, 3)
	require.NoError(t, fx.world.Players.MarkAllDirty(ctx, 1))

	require.Error(t, sync.Flush(ctx))
	require.Zero(t, store.commits)

	// The batch survives for the next cycle.
	store.commitErr = nil
	require.NoError(t, sync.Flush(ctx))
	require.Equal(t, 1, store.commits)
	require.Contains(t, store.states, int64(1))
}

func TestSyncGroundUpsertAndDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	sync := fx.newSync(store)
	fx.login(t, 1, "alice", "arena", 3, 3)

	kept, err := fx.world.Ground.Create(ctx, 50, "arena", 3, 3, 2, nil, 1)
	require.NoError(t, err)
	taken, err := fx.world.Ground.Create(ctx, 50, "arena", 3, 3, 1, nil, 1)
	require.NoError(t, err)
	_, err = fx.world.Ground.PickUp(ctx, 1, "arena", taken.ID)
	require.NoError(t, err)

	require.NoError(t, sync.Flush(ctx))

	row := store.ground[kept.ID]
	require.NotNil(t, row)
	require.Equal(t, 2, row.Quantity)
	require.NotNil(t, row.DroppedBy)
	require.EqualValues(t, 1, *row.DroppedBy)
	require.Contains(t, store.deleted, taken.ID)
}

func TestSyncUpdateHonorsInterval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	sync := fx.newSync(store)
	fx.login(t, 1, "alice", "arena", 3, 3)
	require.NoError(t, fx.world.Players.MarkAllDirty(ctx, 1))

	sync.Update(400 * time.Millisecond)
	require.Zero(t, store.begins)
	sync.Update(700 * time.Millisecond)
	require.Equal(t, 1, store.begins)
}

func TestFlushAllRetries(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	store := newMemStore()
	store.failBegins = 1
	sync := fx.newSync(store)
	fx.login(t, 1, "alice", "arena", 3, 3)

	require.NoError(t, sync.FlushAll(ctx, 2))
	require.Equal(t, 1, store.commits)
	require.Contains(t, store.states, int64(1))
	require.Len(t, store.skills[1], 4)
}
