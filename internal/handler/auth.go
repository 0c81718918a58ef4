package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/persist"
	"github.com/openrealm/server/internal/system"
	"github.com/openrealm/server/internal/world"
)

type authPayload struct {
	Token string `msgpack:"token"`
}

// HandleAuthenticate exchanges a pre-minted token for a live session. On
// success the full player snapshot rides the welcome event so the client
// renders without a second round trip.
func HandleAuthenticate(s *net.Session, env *net.Envelope, deps *Deps) {
	ctx := context.Background()

	var p authPayload
	if err := env.Decode(&p); err != nil || p.Token == "" {
		respondErr(s, env.ID, system.NewFault(system.CodeBadRequest, "token required"))
		return
	}

	row, fault := resolveToken(ctx, deps, p.Token)
	if fault != nil {
		respondErr(s, env.ID, fault)
		s.Close()
		return
	}

	// Claim the online slot first; everything after assumes exclusivity.
	if err := deps.World.Players.RegisterOnline(ctx, row.ID, row.Username); err != nil {
		if err == world.ErrDuplicateOnline {
			respondErr(s, env.ID, system.NewFault(system.CodeAlreadyOnline, "already logged in"))
			s.Close()
			return
		}
		respondErr(s, env.ID, err)
		return
	}

	if err := hydratePlayer(ctx, deps, row); err != nil {
		_ = deps.World.Players.UnregisterOnline(ctx, row.ID)
		respondErr(s, env.ID, err)
		return
	}

	s.BindPlayer(row.ID, row.Username)
	deps.Sessions.BindPlayer(s, row.ID, row.MapID)
	s.SetState(net.StateInWorld)

	if err := deps.Players.TouchLastLogin(ctx, row.ID); err != nil {
		deps.Log.Warn("touch last login", zap.Int64("player_id", row.ID), zap.Error(err))
	}

	event.Emit(deps.Bus, event.PlayerJoined{PlayerID: row.ID, Username: row.Username, MapID: row.MapID})
	deps.Log.Info("player authenticated",
		zap.Int64("player_id", row.ID),
		zap.String("username", row.Username),
		zap.Uint64("session", s.ID))

	snapshot, err := buildWelcome(ctx, deps, row)
	if err != nil {
		respondErr(s, env.ID, err)
		return
	}
	respondOK(s, env.ID, map[string]any{"player_id": row.ID})
	s.SendEnvelope(net.NextEventID(), "event_welcome", snapshot)
}

func resolveToken(ctx context.Context, deps *Deps, raw string) (*persist.PlayerRow, *system.Fault) {
	tok, err := deps.Tokens.Lookup(ctx, persist.HashToken(raw))
	if err != nil {
		deps.Log.Error("token lookup", zap.Error(err))
		return nil, system.NewFault(system.CodeInternal, "internal error")
	}
	if tok == nil || deps.Clock.Now().After(tok.ExpiresAt) {
		return nil, system.NewFault(system.CodeAuthFailed, "invalid or expired token")
	}

	row, err := deps.Players.Load(ctx, tok.PlayerID)
	if err != nil {
		deps.Log.Error("load player", zap.Int64("player_id", tok.PlayerID), zap.Error(err))
		return nil, system.NewFault(system.CodeInternal, "internal error")
	}
	if row == nil {
		return nil, system.NewFault(system.CodeAuthFailed, "invalid or expired token")
	}
	if row.Banned {
		return nil, system.NewFault(system.CodeBanned, "account is banned")
	}
	if row.TimeoutUntil != nil && deps.Clock.Now().Before(*row.TimeoutUntil) {
		return nil, system.NewFault(system.CodeTimedOut, "account is suspended").
			With("until", row.TimeoutUntil.UTC().Format(time.RFC3339))
	}
	return row, nil
}

// hydratePlayer primes the hot store from the durable row. Inventory,
// equipment and skills hydrate lazily through their managers; position and
// hitpoints are written eagerly so the player is immediately observable. A
// reconnect that beats the final sync of the previous session keeps the
// warm cache values instead of the stale row.
func hydratePlayer(ctx context.Context, deps *Deps, row *persist.PlayerRow) error {
	if err := deps.World.Players.Hydrate(ctx, row); err != nil {
		return err
	}
	// First login ever: seed the starting skills.
	return deps.World.Skills.GrantAll(ctx, row.ID)
}

func buildWelcome(ctx context.Context, deps *Deps, row *persist.PlayerRow) (map[string]any, error) {
	inv, err := deps.World.Inventory.GetInventory(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	eq, err := deps.World.Equipment.GetEquipment(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	skills, err := deps.World.Skills.GetSkills(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	hp, err := deps.World.Players.GetHP(ctx, row.ID)
	if err != nil {
		return nil, err
	}

	m := deps.Catalog.Maps.Get(row.MapID)
	mapInfo := map[string]any{"map_id": row.MapID}
	if m != nil {
		mapInfo["name"] = m.Info.Name
		mapInfo["width"] = m.Info.Width
		mapInfo["height"] = m.Info.Height
	}

	return map[string]any{
		"player_id": row.ID,
		"username":  row.Username,
		"position": map[string]any{
			"map_id": row.MapID,
			"x":      row.X,
			"y":      row.Y,
			"facing": row.Facing,
		},
		"hp":        map[string]any{"current": hp.Current, "max": hp.Max},
		"inventory": slotsPayload(inv),
		"equipment": equipmentPayload(eq),
		"skills":    skillsPayload(skills),
		"map":       mapInfo,
		"config": map[string]any{
			"tick_ms":           deps.Config.Server.TickRate.Milliseconds(),
			"move_cooldown_ms":  deps.Config.Game.MoveCooldown.Milliseconds(),
			"visibility_radius": deps.Config.Game.VisibilityRadius,
		},
	}, nil
}

// HandleLogout acknowledges and closes; the state cleanup runs in the
// disconnect hook so a dropped socket and a polite logout behave the same.
func HandleLogout(s *net.Session, env *net.Envelope, deps *Deps) {
	respondOK(s, env.ID, map[string]any{})
	s.Close()
}

// OnDisconnect is installed on the transport and runs once per session after
// the read pump exits.
func OnDisconnect(deps *Deps) func(*net.Session) {
	return func(s *net.Session) {
		pid := s.PlayerID()
		if pid == 0 {
			return
		}
		ctx := context.Background()

		online, err := deps.World.Players.IsOnline(ctx, pid)
		if err != nil {
			deps.Log.Error("disconnect online check", zap.Int64("player_id", pid), zap.Error(err))
			return
		}
		if !online {
			return
		}

		pos, err := deps.World.Players.GetPosition(ctx, pid)
		if err != nil {
			deps.Log.Error("disconnect position", zap.Int64("player_id", pid), zap.Error(err))
		}

		// Flush everything on the next sync cycle, then drop the player
		// from the live indexes.
		if err := deps.World.Players.MarkAllDirty(ctx, pid); err != nil {
			deps.Log.Error("mark dirty on logout", zap.Int64("player_id", pid), zap.Error(err))
		}
		if err := deps.World.Players.RemoveFromMapIndex(ctx, pid); err != nil {
			deps.Log.Error("remove map index", zap.Int64("player_id", pid), zap.Error(err))
		}
		if err := deps.World.Players.ClearCombatState(ctx, pid); err != nil {
			deps.Log.Warn("clear combat on logout", zap.Int64("player_id", pid), zap.Error(err))
		}
		if err := deps.World.Players.UnregisterOnline(ctx, pid); err != nil {
			deps.Log.Error("unregister online", zap.Int64("player_id", pid), zap.Error(err))
		}

		mapID := ""
		if pos != nil {
			mapID = pos.MapID
		}
		event.Emit(deps.Bus, event.PlayerDisconnected{PlayerID: pid, Username: s.Username(), MapID: mapID})
		deps.Log.Info("player logged out", zap.Int64("player_id", pid), zap.Uint64("session", s.ID))
	}
}
