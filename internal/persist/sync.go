package persist

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Cycle is one batch-sync transaction. Each Save runs in its own savepoint,
// so a failed player rolls back alone while the rest of the cycle commits.
type Cycle interface {
	SavePlayerState(ctx context.Context, id int64, mapID string, x, y int, facing string, currentHP, maxHP int) error
	SaveInventory(ctx context.Context, id int64, slots []InventorySlotRow) error
	SaveEquipment(ctx context.Context, id int64, slots []EquipmentSlotRow) error
	SaveSkills(ctx context.Context, id int64, rows []PlayerSkillRow) error
	UpsertGroundItem(ctx context.Context, row *GroundItemRow) error
	DeleteGroundItem(ctx context.Context, id int64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// CycleStore opens sync cycles. The batch sync depends on this interface so
// tests can substitute an in-memory store.
type CycleStore interface {
	Begin(ctx context.Context) (Cycle, error)
}

// SyncStore is the Postgres CycleStore.
type SyncStore struct {
	db     *DB
	player *PlayerRepo
	inv    *InventoryRepo
	equip  *EquipmentRepo
	skills *SkillRepo
	ground *GroundItemRepo
}

func NewSyncStore(db *DB, player *PlayerRepo, inv *InventoryRepo, equip *EquipmentRepo, skills *SkillRepo, ground *GroundItemRepo) *SyncStore {
	return &SyncStore{db: db, player: player, inv: inv, equip: equip, skills: skills, ground: ground}
}

func (s *SyncStore) Begin(ctx context.Context) (Cycle, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &syncCycle{store: s, tx: tx}, nil
}

type syncCycle struct {
	store *SyncStore
	tx    pgx.Tx
}

// savepoint runs fn inside a nested transaction.
func (c *syncCycle) savepoint(ctx context.Context, fn func(q Querier) error) error {
	sub, err := c.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sub); err != nil {
		_ = sub.Rollback(ctx)
		return err
	}
	return sub.Commit(ctx)
}

func (c *syncCycle) SavePlayerState(ctx context.Context, id int64, mapID string, x, y int, facing string, currentHP, maxHP int) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.player.SaveState(ctx, q, id, mapID, x, y, facing, currentHP, maxHP)
	})
}

func (c *syncCycle) SaveInventory(ctx context.Context, id int64, slots []InventorySlotRow) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.inv.Save(ctx, q, id, slots)
	})
}

func (c *syncCycle) SaveEquipment(ctx context.Context, id int64, slots []EquipmentSlotRow) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.equip.Save(ctx, q, id, slots)
	})
}

func (c *syncCycle) SaveSkills(ctx context.Context, id int64, rows []PlayerSkillRow) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.skills.Save(ctx, q, id, rows)
	})
}

func (c *syncCycle) UpsertGroundItem(ctx context.Context, row *GroundItemRow) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.ground.Upsert(ctx, q, row)
	})
}

func (c *syncCycle) DeleteGroundItem(ctx context.Context, id int64) error {
	return c.savepoint(ctx, func(q Querier) error {
		return c.store.ground.Delete(ctx, q, id)
	})
}

func (c *syncCycle) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

func (c *syncCycle) Rollback(ctx context.Context) {
	_ = c.tx.Rollback(ctx)
}
