package handler

import (
	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
)

type attackPayload struct {
	TargetType string `msgpack:"target_type"`
	TargetID   int64  `msgpack:"target_id"`
}

// HandleAttack queues the swing for the game loop and responds when combat
// resolves it, usually on the next tick. The response reuses the command id
// so the client can correlate.
func HandleAttack(s *net.Session, env *net.Envelope, deps *Deps) {
	var p attackPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}
	if p.TargetType == "" || p.TargetID == 0 {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "target required"))
		return
	}

	cmdID := env.ID
	deps.Combat.Enqueue(s.PlayerID(), p.TargetType, p.TargetID, func(outcome *system.AttackOutcome, err error) {
		if err != nil {
			respondErr(s, cmdID, err)
			return
		}
		respondOK(s, cmdID, attackResult(outcome))
	})
}

func attackResult(outcome *system.AttackOutcome) map[string]any {
	return map[string]any{
		"target_type":     outcome.TargetType,
		"target_id":       outcome.TargetID,
		"hit":             outcome.Hit,
		"damage":          outcome.Damage,
		"defender_hp":     outcome.TargetHP,
		"defender_max_hp": outcome.TargetMaxHP,
		"defender_died":   outcome.Killed,
		"xp_gained":       outcome.XP,
	}
}
