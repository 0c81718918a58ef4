package handler

import (
	"context"

	"github.com/openrealm/server/internal/net"
)

type movePayload struct {
	Direction string `msgpack:"direction"`
}

// HandleMove processes cmd_move. The service enforces cooldown and
// collision; observers learn about the step from the position event.
func HandleMove(s *net.Session, env *net.Envelope, deps *Deps) {
	var p movePayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}

	res, err := deps.Movement.Move(context.Background(), s.PlayerID(), p.Direction)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	respondOK(s, env.ID, map[string]any{
		"map_id": res.MapID,
		"x":      res.X,
		"y":      res.Y,
		"facing": res.Facing,
	})
}
