package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
	"github.com/openrealm/server/internal/world"
)

type moveItemPayload struct {
	From int `msgpack:"from"`
	To   int `msgpack:"to"`
}

// HandleMoveInventoryItem processes cmd_move_inventory_item. Swaps, moves
// into holes and stack merges are all the same operation cache-side.
func HandleMoveInventoryItem(s *net.Session, env *net.Envelope, deps *Deps) {
	var p moveItemPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	if err := deps.World.Inventory.MoveItem(context.Background(), s.PlayerID(), p.From, p.To); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	respondOK(s, env.ID, map[string]any{"from": p.From, "to": p.To})
}

// HandleSortInventory processes cmd_sort_inventory.
func HandleSortInventory(s *net.Session, env *net.Envelope, deps *Deps) {
	ctx := context.Background()
	if err := deps.World.Inventory.Sort(ctx, s.PlayerID()); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	inv, err := deps.World.Inventory.GetInventory(ctx, s.PlayerID())
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}
	respondOK(s, env.ID, map[string]any{"inventory": slotsPayload(inv)})
}

type dropPayload struct {
	Slot     int `msgpack:"slot"`
	Quantity int `msgpack:"quantity"`
}

// HandleDropItem processes cmd_drop_item. The dropped stack lands on the
// player's tile and stays private to them for the privacy window.
func HandleDropItem(s *net.Session, env *net.Envelope, deps *Deps) {
	var p dropPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	if p.Quantity <= 0 {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "quantity must be positive"))
		return
	}
	ctx := context.Background()
	pid := s.PlayerID()

	pos, err := deps.World.Players.GetPosition(ctx, pid)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	removed, err := deps.World.Inventory.RemoveQuantity(ctx, pid, p.Slot, p.Quantity)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	g, err := deps.World.Ground.Create(ctx, removed.ItemID, pos.MapID, pos.X, pos.Y, removed.Quantity, removed.Durability, pid)
	if err != nil {
		// The stack is already out of the inventory; put it back rather
		// than destroying it.
		if rerr := deps.World.Inventory.AddSlot(ctx, pid, removed); rerr != nil {
			deps.Log.Error("restore failed drop",
				zap.Int64("player_id", pid),
				zap.Int64("item_id", removed.ItemID),
				zap.Error(rerr))
		}
		respondErr(s, env.ID, err)
		return
	}

	respondOK(s, env.ID, map[string]any{
		"ground_id": g.ID,
		"item_id":   g.ItemID,
		"quantity":  g.Quantity,
		"x":         g.X,
		"y":         g.Y,
	})
}

type pickupPayload struct {
	GroundID int64 `msgpack:"ground_id"`
}

// Pickup reach in tiles.
const pickupRange = 1

// HandlePickupItem processes cmd_pickup_item. The claim is first-wins; two
// players grabbing the same stack race on the cache script, never here.
func HandlePickupItem(s *net.Session, env *net.Envelope, deps *Deps) {
	var p pickupPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	ctx := context.Background()
	pid := s.PlayerID()

	pos, err := deps.World.Players.GetPosition(ctx, pid)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	g, err := deps.World.Ground.Get(ctx, pos.MapID, p.GroundID)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}
	if g == nil {
		respondErr(s, env.ID, system.NewFault(system.CodeNotFound, "item is gone"))
		return
	}
	if world.Chebyshev(pos.X, pos.Y, g.X, g.Y) > pickupRange {
		respondErr(s, env.ID, system.NewFault(system.CodeTooFar, "too far away"))
		return
	}

	picked, err := deps.World.Ground.PickUp(ctx, pid, pos.MapID, p.GroundID)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	respondOK(s, env.ID, map[string]any{
		"item_id":  picked.ItemID,
		"quantity": picked.Quantity,
	})
}
