// Package handler maps command envelopes to game operations. Handlers run
// on session read goroutines; anything that must touch the Lua VM or the
// RNG goes through the combat queue instead.
package handler

import (
	"github.com/VictoriaMetrics/fastcache"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/config"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/persist"
	"github.com/openrealm/server/internal/system"
	"github.com/openrealm/server/internal/world"
)

// Deps holds shared dependencies injected into all command handlers.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	World    *world.World
	Catalog  *data.Catalog
	Movement *system.MovementService
	Combat   *system.CombatSystem
	HP       *system.HPService
	Players  *persist.PlayerRepo
	Tokens   *persist.TokenRepo
	Sessions *net.Registry
	Bus      *event.Bus
	Clock    clock.Clock
	Chunks   *fastcache.Cache // serialized chunk payloads, keyed map:cx:cy
}

// RegisterAll wires every command into the registry with its allowed
// session states.
func RegisterAll(reg *Registry, deps *Deps) {
	preAuth := []net.SessionState{net.StateConnected}
	inWorld := []net.SessionState{net.StateInWorld}

	reg.Register("cmd_authenticate", preAuth, HandleAuthenticate)

	reg.Register("cmd_move", inWorld, HandleMove)
	reg.Register("cmd_attack", inWorld, HandleAttack)
	reg.Register("cmd_chunk_request", inWorld, HandleChunkRequest)

	reg.Register("cmd_move_inventory_item", inWorld, HandleMoveInventoryItem)
	reg.Register("cmd_sort_inventory", inWorld, HandleSortInventory)
	reg.Register("cmd_drop_item", inWorld, HandleDropItem)
	reg.Register("cmd_pickup_item", inWorld, HandlePickupItem)
	reg.Register("cmd_equip_item", inWorld, HandleEquipItem)
	reg.Register("cmd_unequip_item", inWorld, HandleUnequipItem)

	reg.Register("cmd_send_chat_message", inWorld, HandleChat)
	reg.Register("cmd_logout", inWorld, HandleLogout)
}
