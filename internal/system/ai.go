package system

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/clock"
	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/scripting"
	"github.com/openrealm/server/internal/world"
)

// AISystem drives entity behavior once per tick. Go gathers the facts
// (targets, distances, cooldowns) and executes the chosen action; the Lua
// script only decides what to do.
type AISystem struct {
	ctx          context.Context
	world        *world.World
	maps         *data.MapTable
	engine       *scripting.Engine
	combat       *CombatSystem
	clk          clock.Clock
	rng          *rand.Rand
	wanderChance float64
	log          *zap.Logger
}

func NewAISystem(ctx context.Context, w *world.World, maps *data.MapTable, engine *scripting.Engine, combat *CombatSystem, clk clock.Clock, rng *rand.Rand, wanderChance float64, log *zap.Logger) *AISystem {
	return &AISystem{
		ctx:          ctx,
		world:        w,
		maps:         maps,
		engine:       engine,
		combat:       combat,
		clk:          clk,
		rng:          rng,
		wanderChance: wanderChance,
		log:          log.Named("ai"),
	}
}

func (s *AISystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *AISystem) Update(dt time.Duration) {
	for _, m := range s.maps.All() {
		ents, err := s.world.Entities.EntitiesOnMap(s.ctx, m.Info.MapID)
		if err != nil {
			s.log.Error("list entities", zap.String("map_id", m.Info.MapID), zap.Error(err))
			continue
		}
		for _, e := range ents {
			s.step(s.ctx, m, e)
		}
	}
}

func (s *AISystem) step(ctx context.Context, m *data.MapData, e *world.EntityInstance) {
	def := s.world.Entities.Def(e)
	if def == nil {
		s.log.Warn("entity without definition", zap.Int64("entity_id", e.ID), zap.Int64("def_id", e.DefID))
		return
	}

	switch e.State {
	case world.EntityDead:
		return
	case world.EntityDying:
		s.tickDying(ctx, e, def)
		return
	}

	targetID, tx, ty, tdist := s.resolveTarget(ctx, e, def)
	targetSpawnDist := 0
	if targetID != 0 {
		targetSpawnDist = world.Chebyshev(tx, ty, e.SpawnX, e.SpawnY)
	}

	tick := s.combat.Tick()
	dec := s.engine.EntityAI(scripting.AIContext{
		EntityID:        e.ID,
		State:           e.State,
		X:               e.X,
		Y:               e.Y,
		Behavior:        def.Behavior,
		AggroRadius:     def.AggroRadius,
		DisengageRadius: def.DisengageRadius,
		AttackRange:     def.AttackRange,
		WanderRadius:    e.WanderRadius,
		TargetID:        targetID,
		TargetX:         tx,
		TargetY:         ty,
		TargetDist:      tdist,
		TargetSpawnDist: targetSpawnDist,
		CanAttack:       tick-e.LastAttackTick >= int64(def.AttackSpeedTicks),
		SpawnDist:       world.Chebyshev(e.X, e.Y, e.SpawnX, e.SpawnY),
		WanderChance:    s.wanderChance,
		WanderRoll:      s.rng.Float64(),
		DirRoll:         s.rng.Intn(4),
	})

	switch dec.Action {
	case "attack":
		s.combat.EntityAttack(ctx, e, def, targetID)
	case "chase":
		s.stepToward(ctx, m, e, tx, ty)
	case "wander":
		s.wander(ctx, m, e, dec.DX, dec.DY)
	case "leash":
		if e.TargetPlayerID != 0 {
			if err := s.world.Entities.SetTarget(ctx, e.ID, 0); err != nil && err != world.ErrEntityGone {
				s.log.Warn("clear leash target", zap.Int64("entity_id", e.ID), zap.Error(err))
			}
		}
		s.stepToward(ctx, m, e, e.SpawnX, e.SpawnY)
	default:
		if e.State != world.EntityIdle {
			s.setState(ctx, e, world.EntityIdle)
		}
	}
}

func (s *AISystem) tickDying(ctx context.Context, e *world.EntityInstance, def *data.EntityDef) {
	remaining := e.DyingTicks - 1
	if remaining > 0 {
		if err := s.world.Entities.SetFields(ctx, e.ID, "dying_ticks", remaining); err != nil && err != world.ErrEntityGone {
			s.log.Warn("tick dying hold", zap.Int64("entity_id", e.ID), zap.Error(err))
		}
		return
	}

	delay := e.RespawnDelay
	if delay <= 0 {
		delay = def.RespawnDelay
	}
	when := float64(s.clk.Now().UnixNano())/float64(time.Second) + float64(delay)

	if err := s.world.Entities.SetState(ctx, e.ID, world.EntityDead); err != nil && err != world.ErrEntityGone {
		s.log.Warn("mark entity dead", zap.Int64("entity_id", e.ID), zap.Error(err))
	}
	if err := s.world.Entities.Remove(ctx, e.ID, e.MapID); err != nil {
		s.log.Warn("remove dead entity", zap.Int64("entity_id", e.ID), zap.Error(err))
	}
	if err := s.world.Entities.ScheduleRespawn(ctx, e.ID, when); err != nil {
		s.log.Error("schedule respawn", zap.Int64("entity_id", e.ID), zap.Error(err))
	}
}

// resolveTarget returns the current target's id and position, dropping
// targets that logged out or died. It never acquires a target on its own;
// aggro acquisition also happens here but only for aggressive behaviors.
func (s *AISystem) resolveTarget(ctx context.Context, e *world.EntityInstance, def *data.EntityDef) (targetID int64, tx, ty, tdist int) {
	if e.TargetPlayerID != 0 {
		if pos, ok := s.alivePlayerAt(ctx, e.TargetPlayerID, e.MapID); ok {
			return e.TargetPlayerID, pos.X, pos.Y, world.Chebyshev(e.X, e.Y, pos.X, pos.Y)
		}
		if err := s.world.Entities.SetTarget(ctx, e.ID, 0); err != nil && err != world.ErrEntityGone {
			s.log.Warn("clear stale target", zap.Int64("entity_id", e.ID), zap.Error(err))
		}
		e.TargetPlayerID = 0
	}

	if !def.Aggressive() {
		return 0, 0, 0, 0
	}

	ids, err := s.world.Players.GetNearbyPlayerIDs(ctx, e.MapID, e.X, e.Y, def.AggroRadius)
	if err != nil {
		s.log.Error("aggro scan", zap.Int64("entity_id", e.ID), zap.Error(err))
		return 0, 0, 0, 0
	}

	best := int64(0)
	bestDist := 0
	var bestX, bestY int
	for _, id := range ids {
		pos, ok := s.alivePlayerAt(ctx, id, e.MapID)
		if !ok {
			continue
		}
		d := world.Chebyshev(e.X, e.Y, pos.X, pos.Y)
		if best == 0 || d < bestDist {
			best, bestDist, bestX, bestY = id, d, pos.X, pos.Y
		}
	}
	if best == 0 {
		return 0, 0, 0, 0
	}
	if err := s.world.Entities.SetTarget(ctx, e.ID, best); err != nil && err != world.ErrEntityGone {
		s.log.Warn("acquire target", zap.Int64("entity_id", e.ID), zap.Error(err))
	}
	e.TargetPlayerID = best
	return best, bestX, bestY, bestDist
}

func (s *AISystem) alivePlayerAt(ctx context.Context, playerID int64, mapID string) (*world.Position, bool) {
	online, err := s.world.Players.IsOnline(ctx, playerID)
	if err != nil || !online {
		return nil, false
	}
	hp, err := s.world.Players.GetHP(ctx, playerID)
	if err != nil || hp.Current <= 0 {
		return nil, false
	}
	pos, err := s.world.Players.GetPosition(ctx, playerID)
	if err != nil || pos.MapID != mapID {
		return nil, false
	}
	return pos, true
}

// stepToward moves one tile toward (tx, ty), side-stepping on the free axis
// when the diagonal is blocked. The destination tile itself is never entered.
func (s *AISystem) stepToward(ctx context.Context, m *data.MapData, e *world.EntityInstance, tx, ty int) {
	dx, dy := sign(tx-e.X), sign(ty-e.Y)
	if dx == 0 && dy == 0 {
		if e.State != world.EntityIdle {
			s.setState(ctx, e, world.EntityIdle)
		}
		return
	}

	candidates := [3][2]int{
		{e.X + dx, e.Y + dy},
		{e.X + dx, e.Y},
		{e.X, e.Y + dy},
	}
	for _, c := range candidates {
		nx, ny := c[0], c[1]
		if nx == e.X && ny == e.Y {
			continue
		}
		if nx == tx && ny == ty {
			continue
		}
		if !m.IsWalkable(nx, ny) {
			continue
		}
		if err := s.world.Entities.SetPosition(ctx, e.ID, nx, ny); err != nil {
			if err != world.ErrEntityGone {
				s.log.Warn("entity step", zap.Int64("entity_id", e.ID), zap.Error(err))
			}
			return
		}
		e.X, e.Y = nx, ny
		s.setState(ctx, e, world.EntityWalk)
		return
	}
	// Boxed in. Hold position.
	if e.State != world.EntityIdle {
		s.setState(ctx, e, world.EntityIdle)
	}
}

func (s *AISystem) wander(ctx context.Context, m *data.MapData, e *world.EntityInstance, dx, dy int) {
	nx, ny := e.X+dx, e.Y+dy
	if !m.IsWalkable(nx, ny) {
		return
	}
	if e.WanderRadius > 0 && world.Chebyshev(nx, ny, e.SpawnX, e.SpawnY) > e.WanderRadius {
		return
	}
	if err := s.world.Entities.SetPosition(ctx, e.ID, nx, ny); err != nil {
		if err != world.ErrEntityGone {
			s.log.Warn("entity wander", zap.Int64("entity_id", e.ID), zap.Error(err))
		}
		return
	}
	e.X, e.Y = nx, ny
	s.setState(ctx, e, world.EntityWalk)
}

func (s *AISystem) setState(ctx context.Context, e *world.EntityInstance, state string) {
	if err := s.world.Entities.SetState(ctx, e.ID, state); err != nil && err != world.ErrEntityGone {
		s.log.Warn("entity state", zap.Int64("entity_id", e.ID), zap.Error(err))
	}
	e.State = state
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
