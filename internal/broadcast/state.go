package broadcast

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/world"
)

// stateUpdate pushes each session an event_state_update with everything
// visible around them: nearby players, entities and ground items. The
// payload is viewer-specific (visibility radius, ground item privacy), so
// map state is gathered once and filtered per session.
func (b *Broadcaster) stateUpdate() {
	now := float64(b.clk.Now().UnixNano()) / float64(time.Second)

	byMap := make(map[string][]*viewState)
	for _, s := range b.sessions.All() {
		pid := s.PlayerID()
		if pid == 0 {
			continue
		}
		pos, err := b.world.Players.GetPosition(b.ctx, pid)
		if err != nil || pos == nil {
			continue
		}
		hp, err := b.world.Players.GetHP(b.ctx, pid)
		if err != nil {
			continue
		}
		byMap[pos.MapID] = append(byMap[pos.MapID], &viewState{
			session: s, pid: pid, pos: pos, hp: hp,
		})
	}

	for mapID, viewers := range byMap {
		b.sendMapUpdates(mapID, viewers, now)
	}
}

type viewState struct {
	session interface {
		SendEnvelope(id uint64, typ string, payload any)
	}
	pid int64
	pos *world.Position
	hp  *world.HP
}

func (b *Broadcaster) sendMapUpdates(mapID string, viewers []*viewState, now float64) {
	entities, err := b.world.Entities.EntitiesOnMap(b.ctx, mapID)
	if err != nil {
		b.log.Error("state update entities", zap.String("map_id", mapID), zap.Error(err))
		entities = nil
	}
	ground, err := b.world.Ground.ItemsOnMap(b.ctx, mapID)
	if err != nil {
		b.log.Error("state update ground", zap.String("map_id", mapID), zap.Error(err))
		ground = nil
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	sort.Slice(ground, func(i, j int) bool { return ground[i].ID < ground[j].ID })

	for _, v := range viewers {
		players := make([]map[string]any, 0, len(viewers))
		for _, other := range viewers {
			if other.pid == v.pid {
				continue
			}
			if world.Chebyshev(v.pos.X, v.pos.Y, other.pos.X, other.pos.Y) > b.visibilityRadius {
				continue
			}
			players = append(players, map[string]any{
				"player_id": other.pid,
				"x":         other.pos.X,
				"y":         other.pos.Y,
				"facing":    other.pos.Facing,
				"hp":        other.hp.Current,
				"max_hp":    other.hp.Max,
			})
		}

		ents := make([]map[string]any, 0, len(entities))
		for _, e := range entities {
			if e.State == world.EntityDead {
				continue
			}
			if world.Chebyshev(v.pos.X, v.pos.Y, e.X, e.Y) > b.visibilityRadius {
				continue
			}
			ents = append(ents, map[string]any{
				"entity_id": e.ID,
				"def_id":    e.DefID,
				"x":         e.X,
				"y":         e.Y,
				"state":     e.State,
				"hp":        e.CurrentHP,
				"max_hp":    e.MaxHP,
			})
		}

		items := make([]map[string]any, 0, len(ground))
		for _, g := range ground {
			if !g.VisibleTo(v.pid, now) {
				continue
			}
			if world.Chebyshev(v.pos.X, v.pos.Y, g.X, g.Y) > b.visibilityRadius {
				continue
			}
			items = append(items, map[string]any{
				"ground_id": g.ID,
				"item_id":   g.ItemID,
				"quantity":  g.Quantity,
				"x":         g.X,
				"y":         g.Y,
			})
		}

		v.session.SendEnvelope(net.NextEventID(), "event_state_update", map[string]any{
			"tick":     b.tick,
			"self":     map[string]any{"x": v.pos.X, "y": v.pos.Y, "facing": v.pos.Facing, "hp": v.hp.Current, "max_hp": v.hp.Max},
			"players":  players,
			"entities": ents,
			"ground":   items,
		})
	}
}
