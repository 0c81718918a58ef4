package handler

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
)

const maxChatRunes = 256

type chatPayload struct {
	Channel string `msgpack:"channel"` // "global", "local" or "dm"
	Text    string `msgpack:"text"`
	To      string `msgpack:"to"` // dm recipient username
}

// HandleChat processes cmd_send_chat_message. Delivery happens on the game
// loop when the broadcaster dispatches the event; the response only
// acknowledges acceptance.
func HandleChat(s *net.Session, env *net.Envelope, deps *Deps) {
	var p chatPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}

	text := strings.TrimSpace(norm.NFC.String(p.Text))
	if text == "" {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "empty message"))
		return
	}
	if n := len([]rune(text)); n > maxChatRunes {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "message too long"))
		return
	}

	ctx := context.Background()
	pid := s.PlayerID()

	channel := p.Channel
	switch channel {
	case "global":
	case "local":
	case "dm":
		if p.To == "" {
			respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "dm recipient required"))
			return
		}
		toID, err := deps.World.Players.IDOf(ctx, p.To)
		if err != nil {
			respondErr(s, env.ID, err)
			return
		}
		if toID == 0 {
			respondErr(s, env.ID, system.NewFault(system.CodeNotFound, "player is not online"))
			return
		}
		channel = "dm:" + strings.ToLower(p.To)
	default:
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "unknown channel"))
		return
	}

	pos, err := deps.World.Players.GetPosition(ctx, pid)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}

	event.Emit(deps.Bus, event.ChatMessage{
		Channel:  channel,
		FromID:   pid,
		FromName: s.Username(),
		Text:     text,
		MapID:    pos.MapID,
		X:        pos.X,
		Y:        pos.Y,
	})
	respondOK(s, env.ID, map[string]any{})
}
