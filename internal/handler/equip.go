package handler

import (
	"context"

	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
)

type equipPayload struct {
	Slot int `msgpack:"inv_slot"`
}

// HandleEquipItem processes cmd_equip_item. Displaced gear, including the
// weapon pushed out by a two-hander, lands back in the inventory
// atomically with the swap.
func HandleEquipItem(s *net.Session, env *net.Envelope, deps *Deps) {
	var p equipPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	ctx := context.Background()
	pid := s.PlayerID()

	if err := deps.World.Equipment.Equip(ctx, pid, p.Slot); err != nil {
		respondErr(s, env.ID, err)
		return
	}

	eq, err := deps.World.Equipment.GetEquipment(ctx, pid)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}
	respondOK(s, env.ID, map[string]any{"equipment": equipmentPayload(eq)})
}

type unequipPayload struct {
	EquipSlot string `msgpack:"eq_slot"`
}

// HandleUnequipItem processes cmd_unequip_item.
func HandleUnequipItem(s *net.Session, env *net.Envelope, deps *Deps) {
	var p unequipPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	if p.EquipSlot == "" {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "eq_slot required"))
		return
	}
	ctx := context.Background()
	pid := s.PlayerID()

	if err := deps.World.Equipment.Unequip(ctx, pid, p.EquipSlot); err != nil {
		respondErr(s, env.ID, err)
		return
	}

	eq, err := deps.World.Equipment.GetEquipment(ctx, pid)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}
	respondOK(s, env.ID, map[string]any{"equipment": equipmentPayload(eq)})
}
