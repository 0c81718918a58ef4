package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/system"
)

func TestAttackResponseWireKeys(t *testing.T) {
	out := &system.AttackOutcome{
		TargetType:  "entity",
		TargetID:    77,
		Hit:         true,
		Damage:      1,
		TargetHP:    0,
		TargetMaxHP: 10,
		Killed:      true,
		XP: map[string]int64{
			data.SkillAttack:    4,
			data.SkillStrength:  4,
			data.SkillHitpoints: 1,
		},
	}

	require.Equal(t, map[string]any{
		"target_type":     "entity",
		"target_id":       int64(77),
		"hit":             true,
		"damage":          1,
		"defender_hp":     0,
		"defender_max_hp": 10,
		"defender_died":   true,
		"xp_gained": map[string]int64{
			data.SkillAttack:    4,
			data.SkillStrength:  4,
			data.SkillHitpoints: 1,
		},
	}, attackResult(out))
}

func TestEquipPayloadWireKeys(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]any{"inv_slot": 3})
	require.NoError(t, err)
	var eq equipPayload
	require.NoError(t, msgpack.Unmarshal(raw, &eq))
	require.Equal(t, 3, eq.Slot)

	raw, err = msgpack.Marshal(map[string]any{"eq_slot": "weapon"})
	require.NoError(t, err)
	var uneq unequipPayload
	require.NoError(t, msgpack.Unmarshal(raw, &uneq))
	require.Equal(t, "weapon", uneq.EquipSlot)
}
