package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/world"
)

// HPService wraps hitpoint mutation and owns the player death sequence.
type HPService struct {
	players *world.PlayerStateManager
	inv     *world.InventoryManager
	ground  *world.GroundItemManager
	items   *data.ItemTable
	maps    *data.MapTable
	clk     clock.Clock
	bus     *event.Bus
	log     *zap.Logger
}

func NewHPService(players *world.PlayerStateManager, inv *world.InventoryManager, ground *world.GroundItemManager, items *data.ItemTable, maps *data.MapTable, clk clock.Clock, bus *event.Bus, log *zap.Logger) *HPService {
	return &HPService{
		players: players,
		inv:     inv,
		ground:  ground,
		items:   items,
		maps:    maps,
		clk:     clk,
		bus:     bus,
		log:     log.Named("hp"),
	}
}

func (s *HPService) Get(ctx context.Context, playerID int64) (*world.HP, error) {
	return s.players.GetHP(ctx, playerID)
}

// DealDamage applies damage and, if it was lethal, runs the death sequence.
func (s *HPService) DealDamage(ctx context.Context, playerID int64, damage int) (newHP, dealt int, died bool, err error) {
	newHP, dealt, err = s.players.ApplyDamage(ctx, playerID, damage)
	if err != nil {
		return 0, 0, false, err
	}
	if newHP == 0 && dealt > 0 {
		died = true
		if err := s.HandleDeath(ctx, playerID); err != nil {
			s.log.Error("death sequence", zap.Int64("player_id", playerID), zap.Error(err))
		}
	}
	return newHP, dealt, died, nil
}

func (s *HPService) Heal(ctx context.Context, playerID int64, amount int) (int, error) {
	return s.players.Heal(ctx, playerID, amount)
}

// HandleDeath drops the victim's destructible inventory where they fell,
// then respawns them at their map's spawn tile with full hitpoints. The
// dropped stacks stay private to the victim for the usual privacy window.
func (s *HPService) HandleDeath(ctx context.Context, playerID int64) error {
	pos, err := s.players.GetPosition(ctx, playerID)
	if err != nil {
		return err
	}

	event.Emit(s.bus, event.PlayerDied{PlayerID: playerID, MapID: pos.MapID, X: pos.X, Y: pos.Y})

	if err := s.dropInventory(ctx, playerID, pos); err != nil {
		s.log.Error("drop inventory on death", zap.Int64("player_id", playerID), zap.Error(err))
	}

	return s.Respawn(ctx, playerID)
}

// Respawn moves a player to their current map's spawn tile and restores
// full hitpoints. Combat state was already cleared by the lethal hit.
func (s *HPService) Respawn(ctx context.Context, playerID int64) error {
	pos, err := s.players.GetPosition(ctx, playerID)
	if err != nil {
		return err
	}
	m := s.maps.Get(pos.MapID)
	if m == nil {
		return NewFault(CodeInternal, "unknown map")
	}
	sx, sy := m.Spawn()

	now := float64(s.clk.Now().UnixNano()) / float64(time.Second)
	if err := s.players.SetPosition(ctx, playerID, pos.MapID, sx, sy, data.FacingSouth, now); err != nil {
		return err
	}
	hp, err := s.players.GetHP(ctx, playerID)
	if err != nil {
		return err
	}
	if err := s.players.SetHP(ctx, playerID, hp.Max, hp.Max); err != nil {
		return err
	}
	if err := s.players.ClearCombatState(ctx, playerID); err != nil {
		s.log.Warn("clear combat state", zap.Int64("player_id", playerID), zap.Error(err))
	}

	event.Emit(s.bus, event.PlayerRespawned{PlayerID: playerID, MapID: pos.MapID, X: sx, Y: sy})
	return nil
}

// dropInventory moves every destructible stack to the ground. Indestructible
// items survive death in place.
func (s *HPService) dropInventory(ctx context.Context, playerID int64, pos *world.Position) error {
	inv, err := s.inv.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	for slot, st := range inv {
		def := s.items.Get(st.ItemID)
		if def != nil && def.Indestructible {
			continue
		}
		if _, err := s.ground.Create(ctx, st.ItemID, pos.MapID, pos.X, pos.Y, st.Quantity, st.Durability, playerID); err != nil {
			s.log.Error("spawn death drop",
				zap.Int64("player_id", playerID),
				zap.Int64("item_id", st.ItemID),
				zap.Error(err))
			continue
		}
		if err := s.inv.DeleteSlot(ctx, playerID, slot); err != nil {
			s.log.Error("clear death slot", zap.Int64("player_id", playerID), zap.Int("slot", slot), zap.Error(err))
		}
	}
	return nil
}
