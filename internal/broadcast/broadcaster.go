// Package broadcast turns domain events into client envelopes. The
// Broadcaster owns the Output phase: it swaps the event bus buffers,
// dispatches the tick's events to its typed subscribers and then pushes the
// per-tick state update to every session.
package broadcast

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/world"
)

type Broadcaster struct {
	ctx      context.Context
	bus      *event.Bus
	sessions *net.Registry
	world    *world.World
	clk      clock.Clock
	log      *zap.Logger

	visibilityRadius int
	localChatRadius  int
	tick             int64
}

func New(ctx context.Context, bus *event.Bus, sessions *net.Registry, w *world.World, clk clock.Clock, visibilityRadius, localChatRadius int, log *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		ctx:              ctx,
		bus:              bus,
		sessions:         sessions,
		world:            w,
		clk:              clk,
		log:              log.Named("broadcast"),
		visibilityRadius: visibilityRadius,
		localChatRadius:  localChatRadius,
	}
	b.subscribe()
	return b
}

func (b *Broadcaster) Phase() coresys.Phase { return coresys.PhaseOutput }

func (b *Broadcaster) Update(dt time.Duration) {
	b.tick++
	b.bus.SwapBuffers()
	b.bus.DispatchAll()
	b.stateUpdate()
}

func (b *Broadcaster) subscribe() {
	event.Subscribe(b.bus, b.onPlayerJoined)
	event.Subscribe(b.bus, b.onPlayerDisconnected)
	event.Subscribe(b.bus, b.onPositionChanged)
	event.Subscribe(b.bus, b.onPlayerHPChanged)
	event.Subscribe(b.bus, b.onPlayerDied)
	event.Subscribe(b.bus, b.onPlayerRespawned)
	event.Subscribe(b.bus, b.onInventoryChanged)
	event.Subscribe(b.bus, b.onEquipmentChanged)
	event.Subscribe(b.bus, b.onSkillChanged)
	event.Subscribe(b.bus, b.onGroundItemSpawned)
	event.Subscribe(b.bus, b.onGroundItemDespawned)
	event.Subscribe(b.bus, b.onEntitySpawned)
	event.Subscribe(b.bus, b.onEntityDied)
	event.Subscribe(b.bus, b.onChatMessage)
}

// fanout encodes once and sends to every session on the map. keep filters
// recipients by player id; nil means everyone.
func (b *Broadcaster) fanout(mapID, typ string, payload any, keep func(int64) bool) {
	frame, err := net.EncodeEnvelope(net.NextEventID(), typ, payload)
	if err != nil {
		b.log.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	b.sessions.Fanout(mapID, keep, frame)
}

// toPlayer sends one event to a single player's session, if connected.
func (b *Broadcaster) toPlayer(playerID int64, typ string, payload any) {
	s := b.sessions.ByPlayer(playerID)
	if s == nil {
		return
	}
	s.SendEnvelope(net.NextEventID(), typ, payload)
}

// ==================== event handlers ====================

func (b *Broadcaster) onPlayerJoined(ev event.PlayerJoined) {
	b.fanout(ev.MapID, "event_player_joined", map[string]any{
		"player_id": ev.PlayerID,
		"username":  ev.Username,
	}, func(pid int64) bool { return pid != ev.PlayerID })
}

func (b *Broadcaster) onPlayerDisconnected(ev event.PlayerDisconnected) {
	b.fanout(ev.MapID, "event_player_disconnect", map[string]any{
		"player_id": ev.PlayerID,
		"username":  ev.Username,
	}, func(pid int64) bool { return pid != ev.PlayerID })
}

func (b *Broadcaster) onPositionChanged(ev event.PositionChanged) {
	// The session index only learns about cross-map moves here.
	b.sessions.SetMap(ev.PlayerID, ev.MapID)
	b.fanout(ev.MapID, "event_player_moved", map[string]any{
		"player_id": ev.PlayerID,
		"x":         ev.X,
		"y":         ev.Y,
		"facing":    ev.Facing,
	}, func(pid int64) bool { return pid != ev.PlayerID })
}

func (b *Broadcaster) onPlayerHPChanged(ev event.PlayerHPChanged) {
	b.fanout(ev.MapID, "event_player_hp", map[string]any{
		"player_id": ev.PlayerID,
		"current":   ev.Current,
		"max":       ev.Max,
	}, nil)
}

func (b *Broadcaster) onPlayerDied(ev event.PlayerDied) {
	b.fanout(ev.MapID, "event_player_died", map[string]any{
		"player_id": ev.PlayerID,
		"x":         ev.X,
		"y":         ev.Y,
	}, nil)
}

func (b *Broadcaster) onPlayerRespawned(ev event.PlayerRespawned) {
	b.fanout(ev.MapID, "event_player_respawn", map[string]any{
		"player_id": ev.PlayerID,
		"map_id":    ev.MapID,
		"x":         ev.X,
		"y":         ev.Y,
	}, nil)
}

func (b *Broadcaster) onInventoryChanged(ev event.InventoryChanged) {
	inv, err := b.world.Inventory.GetInventory(b.ctx, ev.PlayerID)
	if err != nil {
		b.log.Error("read inventory for event", zap.Int64("player_id", ev.PlayerID), zap.Error(err))
		return
	}
	b.toPlayer(ev.PlayerID, "event_inventory_update", map[string]any{
		"inventory": invPayload(inv),
	})
}

func (b *Broadcaster) onEquipmentChanged(ev event.EquipmentChanged) {
	eq, err := b.world.Equipment.GetEquipment(b.ctx, ev.PlayerID)
	if err != nil {
		b.log.Error("read equipment for event", zap.Int64("player_id", ev.PlayerID), zap.Error(err))
		return
	}
	b.toPlayer(ev.PlayerID, "event_equipment_update", map[string]any{
		"equipment": equipPayload(eq),
	})
}

func (b *Broadcaster) onSkillChanged(ev event.SkillChanged) {
	b.toPlayer(ev.PlayerID, "event_skill_update", map[string]any{
		"skill":      ev.Skill,
		"level":      ev.Level,
		"xp":         ev.XP,
		"leveled_up": ev.LeveledUp,
	})
}

func (b *Broadcaster) onGroundItemSpawned(ev event.GroundItemSpawned) {
	payload := map[string]any{
		"ground_id": ev.GroundID,
		"item_id":   ev.ItemID,
		"quantity":  ev.Quantity,
		"x":         ev.X,
		"y":         ev.Y,
	}
	// Owned drops stay invisible to everyone else until the privacy window
	// lapses; the state update picks them up once public.
	if ev.DroppedBy != 0 {
		b.toPlayer(ev.DroppedBy, "event_ground_item_spawn", payload)
		return
	}
	b.fanout(ev.MapID, "event_ground_item_spawn", payload, nil)
}

func (b *Broadcaster) onGroundItemDespawned(ev event.GroundItemDespawned) {
	b.fanout(ev.MapID, "event_ground_item_despawn", map[string]any{
		"ground_id": ev.GroundID,
	}, nil)
}

func (b *Broadcaster) onEntitySpawned(ev event.EntitySpawned) {
	b.fanout(ev.MapID, "event_entity_spawned", map[string]any{
		"entity_id": ev.InstanceID,
		"def_id":    ev.DefID,
		"x":         ev.X,
		"y":         ev.Y,
	}, nil)
}

func (b *Broadcaster) onEntityDied(ev event.EntityDied) {
	b.fanout(ev.MapID, "event_entity_died", map[string]any{
		"entity_id": ev.InstanceID,
		"def_id":    ev.DefID,
		"killer_id": ev.KillerID,
		"x":         ev.X,
		"y":         ev.Y,
	}, nil)
}

func (b *Broadcaster) onChatMessage(ev event.ChatMessage) {
	payload := map[string]any{
		"channel": ev.Channel,
		"from_id": ev.FromID,
		"from":    ev.FromName,
		"text":    ev.Text,
	}

	switch {
	case ev.Channel == "global":
		frame, err := net.EncodeEnvelope(net.NextEventID(), "event_chat_message", payload)
		if err != nil {
			b.log.Error("encode chat", zap.Error(err))
			return
		}
		b.sessions.Broadcast(frame)

	case ev.Channel == "local":
		b.fanout(ev.MapID, "event_chat_message", payload, func(pid int64) bool {
			pos, err := b.world.Players.GetPosition(b.ctx, pid)
			if err != nil || pos == nil {
				return false
			}
			return world.Chebyshev(pos.X, pos.Y, ev.X, ev.Y) <= b.localChatRadius
		})

	case strings.HasPrefix(ev.Channel, "dm:"):
		toID, err := b.world.Players.IDOf(b.ctx, strings.TrimPrefix(ev.Channel, "dm:"))
		if err != nil || toID == 0 {
			return
		}
		b.toPlayer(toID, "event_chat_message", payload)
		if toID != ev.FromID {
			b.toPlayer(ev.FromID, "event_chat_message", payload)
		}
	}
}
