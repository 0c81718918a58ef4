package system

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/cache"
	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
	"github.com/openrealm/server/internal/world"
)

// SyncSystem drains the dirty sets into the durable store on a fixed
// interval. Each cycle is one transaction; each owner saves inside its own
// savepoint so one bad row cannot poison the batch. Owners that fail are
// re-marked dirty and retried next cycle.
type SyncSystem struct {
	ctx    context.Context
	cache  *cache.Client
	world  *world.World
	store  persist.CycleStore
	skills *data.SkillTable
	log    *zap.Logger

	interval time.Duration
	elapsed  time.Duration
}

func NewSyncSystem(ctx context.Context, c *cache.Client, w *world.World, store persist.CycleStore, skills *data.SkillTable, interval time.Duration, log *zap.Logger) *SyncSystem {
	return &SyncSystem{
		ctx:      ctx,
		cache:    c,
		world:    w,
		store:    store,
		skills:   skills,
		log:      log.Named("sync"),
		interval: interval,
	}
}

func (s *SyncSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *SyncSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0

	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Error("sync cycle", zap.Error(err))
	}
}

// batch is the cycle's drained work, held so a failed commit can re-mark
// everything.
type batch struct {
	positions   []int64
	inventories []int64
	equipment   []int64
	skills      []int64
	ground      []string
}

func (b *batch) size() int {
	return len(b.positions) + len(b.inventories) + len(b.equipment) + len(b.skills) + len(b.ground)
}

// Flush drains every dirty set and writes the batch through one cycle.
func (s *SyncSystem) Flush(ctx context.Context) error {
	b, err := s.drain(ctx)
	if err != nil {
		return err
	}
	if b.size() == 0 {
		return nil
	}

	cycle, err := s.store.Begin(ctx)
	if err != nil {
		s.remarkAll(ctx, b)
		return err
	}

	failed := 0
	failed += s.flushPlayers(ctx, cycle, b.positions, world.CategoryPositions, s.savePlayerState)
	failed += s.flushPlayers(ctx, cycle, b.inventories, world.CategoryInventories, s.saveInventory)
	failed += s.flushPlayers(ctx, cycle, b.equipment, world.CategoryEquipment, s.saveEquipment)
	failed += s.flushPlayers(ctx, cycle, b.skills, world.CategorySkills, s.saveSkills)
	failed += s.flushGround(ctx, cycle, b.ground)

	if err := cycle.Commit(ctx); err != nil {
		s.remarkAll(ctx, b)
		return err
	}

	s.log.Info("sync cycle complete",
		zap.Int("flushed", b.size()-failed),
		zap.Int("failed", failed))
	return nil
}

func (s *SyncSystem) drain(ctx context.Context) (*batch, error) {
	b := &batch{}
	var err error
	if b.positions, err = s.drainIDs(ctx, cache.KeyDirtyPositions); err != nil {
		return nil, err
	}
	if b.inventories, err = s.drainIDs(ctx, cache.KeyDirtyInventories); err != nil {
		return nil, err
	}
	if b.equipment, err = s.drainIDs(ctx, cache.KeyDirtyEquipment); err != nil {
		return nil, err
	}
	if b.skills, err = s.drainIDs(ctx, cache.KeyDirtySkills); err != nil {
		return nil, err
	}
	if b.ground, err = s.cache.DrainSet(ctx, cache.KeyGroundDirty); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SyncSystem) drainIDs(ctx context.Context, key string) ([]int64, error) {
	members, err := s.cache.DrainSet(ctx, key)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id := parseID(m); id != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *SyncSystem) flushPlayers(ctx context.Context, cycle persist.Cycle, ids []int64, category string, save func(context.Context, persist.Cycle, int64) error) int {
	failed := 0
	for _, id := range ids {
		if err := save(ctx, cycle, id); err != nil {
			failed++
			s.log.Error("flush player",
				zap.Int64("player_id", id),
				zap.String("category", category),
				zap.Error(err))
			s.remark(ctx, category, id)
		}
	}
	return failed
}

func (s *SyncSystem) savePlayerState(ctx context.Context, cycle persist.Cycle, id int64) error {
	pos, err := s.world.Players.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	hp, err := s.world.Players.GetHP(ctx, id)
	if err != nil {
		return err
	}
	return cycle.SavePlayerState(ctx, id, pos.MapID, pos.X, pos.Y, pos.Facing, hp.Current, hp.Max)
}

func (s *SyncSystem) saveInventory(ctx context.Context, cycle persist.Cycle, id int64) error {
	inv, err := s.world.Inventory.GetInventory(ctx, id)
	if err != nil {
		return err
	}
	rows := make([]persist.InventorySlotRow, 0, len(inv))
	for slot, st := range inv {
		rows = append(rows, persist.InventorySlotRow{
			Slot:       slot,
			ItemID:     st.ItemID,
			Quantity:   st.Quantity,
			Durability: st.Durability,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Slot < rows[j].Slot })
	return cycle.SaveInventory(ctx, id, rows)
}

func (s *SyncSystem) saveEquipment(ctx context.Context, cycle persist.Cycle, id int64) error {
	eq, err := s.world.Equipment.GetEquipment(ctx, id)
	if err != nil {
		return err
	}
	rows := make([]persist.EquipmentSlotRow, 0, len(eq))
	for slot, st := range eq {
		rows = append(rows, persist.EquipmentSlotRow{
			Slot:       slot,
			ItemID:     st.ItemID,
			Quantity:   st.Quantity,
			Durability: st.Durability,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Slot < rows[j].Slot })
	return cycle.SaveEquipment(ctx, id, rows)
}

func (s *SyncSystem) saveSkills(ctx context.Context, cycle persist.Cycle, id int64) error {
	sk, err := s.world.Skills.GetSkills(ctx, id)
	if err != nil {
		return err
	}
	rows := make([]persist.PlayerSkillRow, 0, len(sk))
	for name, st := range sk {
		def := s.skills.GetByName(name)
		if def == nil {
			s.log.Warn("skill without definition", zap.Int64("player_id", id), zap.String("skill", name))
			continue
		}
		rows = append(rows, persist.PlayerSkillRow{
			SkillID:    def.ID,
			Level:      st.Level,
			Experience: st.XP,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SkillID < rows[j].SkillID })
	return cycle.SaveSkills(ctx, id, rows)
}

// flushGround resolves each drained "map:id" member against the cache. A
// record still present is upserted; a vanished one (picked up or despawned)
// is deleted from the durable store.
func (s *SyncSystem) flushGround(ctx context.Context, cycle persist.Cycle, members []string) int {
	failed := 0
	for _, member := range members {
		if err := s.flushGroundMember(ctx, cycle, member); err != nil {
			failed++
			s.log.Error("flush ground item", zap.String("member", member), zap.Error(err))
			if rerr := s.cache.SAdd(ctx, cache.KeyGroundDirty, member); rerr != nil {
				s.log.Error("re-mark ground item", zap.String("member", member), zap.Error(rerr))
			}
		}
	}
	return failed
}

func (s *SyncSystem) flushGroundMember(ctx context.Context, cycle persist.Cycle, member string) error {
	mapID, groundID, ok := world.SplitGroundMember(member)
	if !ok {
		s.log.Warn("malformed ground member", zap.String("member", member))
		return nil
	}
	g, err := s.world.Ground.Get(ctx, mapID, groundID)
	if err != nil {
		return err
	}
	if g == nil {
		return cycle.DeleteGroundItem(ctx, groundID)
	}
	return cycle.UpsertGroundItem(ctx, &persist.GroundItemRow{
		ID:         g.ID,
		ItemID:     g.ItemID,
		MapID:      g.MapID,
		X:          g.X,
		Y:          g.Y,
		Quantity:   g.Quantity,
		Durability: g.Durability,
		DroppedBy:  nullableID(g.DroppedBy),
		DroppedAt:  g.DroppedAt,
		PublicAt:   g.PublicAt,
		DespawnAt:  g.DespawnAt,
	})
}

func (s *SyncSystem) remark(ctx context.Context, category string, id int64) {
	if err := s.cache.SAdd(ctx, "dirty:"+category, id); err != nil {
		s.log.Error("re-mark dirty", zap.String("category", category), zap.Int64("player_id", id), zap.Error(err))
	}
}

func (s *SyncSystem) remarkAll(ctx context.Context, b *batch) {
	for _, id := range b.positions {
		s.remark(ctx, world.CategoryPositions, id)
	}
	for _, id := range b.inventories {
		s.remark(ctx, world.CategoryInventories, id)
	}
	for _, id := range b.equipment {
		s.remark(ctx, world.CategoryEquipment, id)
	}
	for _, id := range b.skills {
		s.remark(ctx, world.CategorySkills, id)
	}
	for _, member := range b.ground {
		if err := s.cache.SAdd(ctx, cache.KeyGroundDirty, member); err != nil {
			s.log.Error("re-mark ground item", zap.String("member", member), zap.Error(err))
		}
	}
}

// FlushAll marks every online player dirty in every category and flushes
// with retries. Called once on shutdown; an error here means state was left
// only in the cache.
func (s *SyncSystem) FlushAll(ctx context.Context, retries int) error {
	ids, err := s.world.Players.OnlineIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		for _, key := range []string{cache.KeyDirtyPositions, cache.KeyDirtyInventories, cache.KeyDirtyEquipment, cache.KeyDirtySkills} {
			if err := s.cache.SAdd(ctx, key, id); err != nil {
				return err
			}
		}
	}

	var last error
	for attempt := 0; attempt <= retries; attempt++ {
		if last = s.Flush(ctx); last == nil {
			return nil
		}
		s.log.Warn("shutdown flush retry", zap.Int("attempt", attempt+1), zap.Error(last))
	}
	return last
}

func parseID(s string) int64 {
	var id int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		id = id*10 + int64(r-'0')
	}
	return id
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
