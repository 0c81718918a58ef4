package system

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/world"
)

// MovementService validates and executes player steps. It is called from
// session goroutines; all state lives in the cache so no loop hop is needed.
type MovementService struct {
	players  *world.PlayerStateManager
	maps     *data.MapTable
	portals  *data.PortalTable
	clk      clock.Clock
	cooldown time.Duration
	log      *zap.Logger
}

func NewMovementService(players *world.PlayerStateManager, maps *data.MapTable, portals *data.PortalTable, clk clock.Clock, cooldown time.Duration, log *zap.Logger) *MovementService {
	return &MovementService{
		players:  players,
		maps:     maps,
		portals:  portals,
		clk:      clk,
		cooldown: cooldown,
		log:      log.Named("movement"),
	}
}

// MoveResult is the post-move position returned to the mover.
type MoveResult struct {
	MapID  string
	X, Y   int
	Facing string
}

// Move applies one step in direction. Validation order is fixed: direction,
// online, alive, cooldown, collision. A blocked step still turns the player
// to face the wall.
func (s *MovementService) Move(ctx context.Context, playerID int64, direction string) (*MoveResult, error) {
	facing, dx, dy, ok := data.ParseDirection(direction)
	if !ok {
		return nil, NewFault(CodeInvalidDirection, fmt.Sprintf("unknown direction %q", direction))
	}

	online, err := s.players.IsOnline(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !online {
		return nil, NewFault(CodePlayerNotOnline, "player is not online")
	}

	hp, err := s.players.GetHP(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if hp.Current <= 0 {
		return nil, NewFault(CodeDead, "dead players cannot move")
	}

	pos, err := s.players.GetPosition(ctx, playerID)
	if err != nil {
		return nil, err
	}

	now := float64(s.clk.Now().UnixNano()) / float64(time.Second)
	if remaining := pos.LastMoveTime + s.cooldown.Seconds() - now; remaining > 0 {
		return nil, NewFault(CodeRateLimited, "moving too fast").With("retry_in", remaining)
	}

	m := s.maps.Get(pos.MapID)
	if m == nil {
		s.log.Error("player on unknown map", zap.Int64("player_id", playerID), zap.String("map_id", pos.MapID))
		return nil, NewFault(CodeInternal, "unknown map")
	}

	nx, ny := pos.X+dx, pos.Y+dy
	if !m.IsWalkable(nx, ny) {
		// Turn in place. The move timestamp is untouched so turning is free.
		if pos.Facing != facing {
			if err := s.players.SetPosition(ctx, playerID, pos.MapID, pos.X, pos.Y, facing, -1); err != nil {
				return nil, err
			}
		}
		return nil, NewFault(CodeBlocked, "tile is not walkable")
	}

	destMap, destX, destY := pos.MapID, nx, ny
	if p := s.portals.At(pos.MapID, nx, ny); p != nil {
		if dm := s.maps.Get(p.DestMapID); dm != nil && dm.IsWalkable(p.DestX, p.DestY) {
			destMap, destX, destY = p.DestMapID, p.DestX, p.DestY
			if p.DestFacing != "" {
				facing = p.DestFacing
			}
		} else {
			s.log.Error("portal leads nowhere",
				zap.String("map_id", pos.MapID), zap.Int("x", nx), zap.Int("y", ny),
				zap.String("dest_map_id", p.DestMapID))
		}
	}

	if err := s.players.SetPosition(ctx, playerID, destMap, destX, destY, facing, now); err != nil {
		return nil, err
	}
	// Stepping away disengages.
	if err := s.players.ClearCombatState(ctx, playerID); err != nil {
		s.log.Warn("clear combat state", zap.Int64("player_id", playerID), zap.Error(err))
	}

	return &MoveResult{MapID: destMap, X: destX, Y: destY, Facing: facing}, nil
}

// Teleport places a player on an arbitrary tile. Admin and respawn paths
// only; no cooldown applies and the move timestamp stays untouched, so a
// teleport never charges the next step. validate=false skips the walkability
// check for tooling that places players inside geometry on purpose; the map
// must exist either way.
func (s *MovementService) Teleport(ctx context.Context, playerID int64, mapID string, x, y int, validate bool) (*MoveResult, error) {
	m := s.maps.Get(mapID)
	if m == nil {
		return nil, NewFault(CodeNotFound, fmt.Sprintf("unknown map %q", mapID))
	}
	if validate && !m.IsWalkable(x, y) {
		return nil, NewFault(CodeBlocked, "tile is not walkable")
	}

	if err := s.players.SetPosition(ctx, playerID, mapID, x, y, data.FacingSouth, -1); err != nil {
		return nil, err
	}
	if err := s.players.ClearCombatState(ctx, playerID); err != nil {
		s.log.Warn("clear combat state", zap.Int64("player_id", playerID), zap.Error(err))
	}
	return &MoveResult{MapID: mapID, X: x, Y: y, Facing: data.FacingSouth}, nil
}
