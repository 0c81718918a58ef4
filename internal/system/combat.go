package system

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/scripting"
	"github.com/openrealm/server/internal/world"
)

// Damage-to-experience scale. Hitpoints trains at a third of the rate.
const (
	xpPerDamage          = 4
	hitpointsXPDivisor   = 3
	retaliationTargeting = true
)

// AttackOutcome is delivered to the attacker's session once the swing has
// been resolved on the game loop.
type AttackOutcome struct {
	TargetType  string
	TargetID    int64
	Hit         bool
	Damage      int
	TargetHP    int
	TargetMaxHP int
	Killed      bool
	XP          map[string]int64 // skill name -> xp gained this swing
}

type attackRequest struct {
	playerID   int64
	targetType string
	targetID   int64
	respond    func(*AttackOutcome, error)
}

// CombatSystem resolves attacks. Requests arrive from session goroutines via
// Enqueue and are drained once per tick, so the Lua formula VM and the RNG
// are only ever touched by the game loop.
type CombatSystem struct {
	ctx      context.Context
	world    *world.World
	catalog  *data.Catalog
	engine   *scripting.Engine
	hp       *HPService
	clk      clock.Clock
	bus      *event.Bus
	rng      *rand.Rand
	log      *zap.Logger
	atkTicks int64 // minimum ticks between player swings
	dying    int   // ticks a killed entity lingers before removal

	mu    sync.Mutex
	queue []attackRequest

	tick int64
}

func NewCombatSystem(ctx context.Context, w *world.World, catalog *data.Catalog, engine *scripting.Engine, hp *HPService, clk clock.Clock, bus *event.Bus, rng *rand.Rand, attackCooldown, tickRate time.Duration, dyingTicks int, log *zap.Logger) *CombatSystem {
	atkTicks := int64(attackCooldown / tickRate)
	if atkTicks < 1 {
		atkTicks = 1
	}
	return &CombatSystem{
		ctx:      ctx,
		world:    w,
		catalog:  catalog,
		engine:   engine,
		hp:       hp,
		clk:      clk,
		bus:      bus,
		rng:      rng,
		log:      log.Named("combat"),
		atkTicks: atkTicks,
		dying:    dyingTicks,
		queue:    make([]attackRequest, 0, 64),
	}
}

func (s *CombatSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

// Tick is the current game tick. Only meaningful on the game loop.
func (s *CombatSystem) Tick() int64 { return s.tick }

// Enqueue schedules an attack for the next tick. respond runs on the game
// loop; it must not block.
func (s *CombatSystem) Enqueue(playerID int64, targetType string, targetID int64, respond func(*AttackOutcome, error)) {
	s.mu.Lock()
	s.queue = append(s.queue, attackRequest{
		playerID:   playerID,
		targetType: targetType,
		targetID:   targetID,
		respond:    respond,
	})
	s.mu.Unlock()
}

func (s *CombatSystem) Update(dt time.Duration) {
	s.tick++

	s.mu.Lock()
	pending := s.queue
	s.queue = make([]attackRequest, 0, cap(pending))
	s.mu.Unlock()

	for _, req := range pending {
		outcome, err := s.resolvePlayerAttack(s.ctx, req)
		if req.respond != nil {
			req.respond(outcome, err)
		}
	}
}

func (s *CombatSystem) resolvePlayerAttack(ctx context.Context, req attackRequest) (*AttackOutcome, error) {
	if req.targetType == "player" {
		return nil, NewFault(CodeNotImplemented, "player versus player combat is not available")
	}
	if req.targetType != "entity" {
		return nil, NewFault(CodeNotFound, "unknown target type")
	}

	hp, err := s.world.Players.GetHP(ctx, req.playerID)
	if err != nil {
		return nil, err
	}
	if hp.Current <= 0 {
		return nil, NewFault(CodeDead, "dead players cannot attack")
	}
	pos, err := s.world.Players.GetPosition(ctx, req.playerID)
	if err != nil {
		return nil, err
	}

	target, err := s.world.Entities.Get(ctx, req.targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, NewFault(CodeNotFound, "target does not exist")
	}
	if target.State == world.EntityDying || target.State == world.EntityDead || target.CurrentHP <= 0 {
		return nil, NewFault(CodeDead, "target is already dead")
	}
	def := s.world.Entities.Def(target)
	if def == nil {
		return nil, NewFault(CodeNotFound, "target has no definition")
	}

	weapon, weaponSlot, err := s.world.Equipment.WeaponOf(ctx, req.playerID)
	if err != nil {
		return nil, err
	}
	reach := 1
	weaponBonus := 0
	if weapon != nil {
		weaponBonus = weapon.AttackBonus
		if weapon.WeaponRange > reach {
			reach = weapon.WeaponRange
		}
	}

	if target.MapID != pos.MapID || world.Chebyshev(pos.X, pos.Y, target.X, target.Y) > reach {
		return nil, NewFault(CodeTooFar, "target is out of reach")
	}

	cs, err := s.world.Players.GetCombatState(ctx, req.playerID)
	if err != nil {
		return nil, err
	}
	if cs != nil && s.tick-cs.LastAttackTick < s.atkTicks {
		return nil, NewFault(CodeRateLimited, "attacking too fast").
			With("retry_ticks", s.atkTicks-(s.tick-cs.LastAttackTick))
	}

	attackLvl, err := s.world.Skills.Level(ctx, req.playerID, data.SkillAttack)
	if err != nil {
		return nil, err
	}
	strengthLvl, err := s.world.Skills.Level(ctx, req.playerID, data.SkillStrength)
	if err != nil {
		return nil, err
	}

	res := s.engine.CalcAttack(scripting.AttackContext{
		AttackLevel:   attackLvl,
		StrengthLevel: strengthLvl,
		WeaponBonus:   weaponBonus,
		DefenceLevel:  max(def.Defence, 1),
		ArmourBonus:   0,
		RollHit:       s.rng.Float64(),
		RollDamage:    s.rng.Float64(),
	})

	outcome := &AttackOutcome{
		TargetType:  "entity",
		TargetID:    target.ID,
		Hit:         res.IsHit,
		TargetHP:    target.CurrentHP,
		TargetMaxHP: target.MaxHP,
		XP:          map[string]int64{},
	}

	dealt := 0
	if res.IsHit && res.Damage > 0 {
		newHP, d, died, err := s.world.Entities.ApplyDamage(ctx, target.ID, res.Damage)
		if err != nil {
			if err == world.ErrEntityGone {
				return nil, NewFault(CodeNotFound, "target does not exist")
			}
			return nil, err
		}
		dealt = d
		outcome.Damage = dealt
		outcome.TargetHP = newHP
		outcome.Killed = died
	}

	if err := s.world.Players.SetCombatState(ctx, req.playerID, world.CombatState{
		TargetType:     "entity",
		TargetID:       target.ID,
		LastAttackTick: s.tick,
		AttackSpeed:    int(s.atkTicks),
	}); err != nil {
		s.log.Warn("set combat state", zap.Int64("player_id", req.playerID), zap.Error(err))
	}

	if retaliationTargeting && target.TargetPlayerID == 0 && !outcome.Killed {
		if err := s.world.Entities.SetTarget(ctx, target.ID, req.playerID); err != nil && err != world.ErrEntityGone {
			s.log.Warn("set retaliation target", zap.Int64("entity_id", target.ID), zap.Error(err))
		}
	}

	if dealt > 0 {
		s.awardXP(ctx, req.playerID, outcome, data.SkillAttack, int64(dealt)*xpPerDamage)
		s.awardXP(ctx, req.playerID, outcome, data.SkillStrength, int64(dealt)*xpPerDamage)
		s.awardXP(ctx, req.playerID, outcome, data.SkillHitpoints, int64(dealt)*xpPerDamage/hitpointsXPDivisor)
		s.degradeWeapon(ctx, req.playerID, weapon, weaponSlot, dealt)
	}

	if outcome.Killed {
		s.onEntityKilled(ctx, target, def, req.playerID)
	}

	return outcome, nil
}

func (s *CombatSystem) awardXP(ctx context.Context, playerID int64, outcome *AttackOutcome, skill string, amount int64) {
	if amount <= 0 {
		return
	}
	gain, err := s.world.Skills.AddExperience(ctx, playerID, skill, amount)
	if err != nil {
		s.log.Error("award xp", zap.Int64("player_id", playerID), zap.String("skill", skill), zap.Error(err))
		return
	}
	outcome.XP[skill] += gain.XPGained
}

func (s *CombatSystem) degradeWeapon(ctx context.Context, playerID int64, weapon *data.ItemDef, slot world.Slot, dealt int) {
	if weapon == nil || !weapon.HasDurability() || slot.Durability == nil {
		return
	}
	loss := s.engine.CalcDurabilityLoss(scripting.DurabilityContext{
		DamageDealt:   dealt,
		Durability:    *slot.Durability,
		MaxDurability: weapon.MaxDurability,
		Roll:          s.rng.Float64(),
	})
	if loss <= 0 {
		return
	}
	if _, err := s.world.Equipment.DecrWeaponDurability(ctx, playerID, weapon.ID, loss); err != nil {
		s.log.Warn("weapon durability", zap.Int64("player_id", playerID), zap.Error(err))
	}
}

// onEntityKilled starts the dying hold and rolls the drop table. Experience
// comes from damage dealt only; the killing blow carries no extra award.
func (s *CombatSystem) onEntityKilled(ctx context.Context, target *world.EntityInstance, def *data.EntityDef, killerID int64) {
	// The damage script already flipped state to dying and cleared the
	// target; the hold countdown is ours.
	if err := s.world.Entities.SetFields(ctx, target.ID, "dying_ticks", s.dying); err != nil && err != world.ErrEntityGone {
		s.log.Warn("set dying hold", zap.Int64("entity_id", target.ID), zap.Error(err))
	}

	event.Emit(s.bus, event.EntityDied{
		InstanceID: target.ID,
		DefID:      def.ID,
		MapID:      target.MapID,
		X:          target.X,
		Y:          target.Y,
		KillerID:   killerID,
	})

	s.rollDrops(ctx, def, target, killerID)

	s.log.Info("entity killed",
		zap.Int64("entity_id", target.ID),
		zap.Int64("def_id", def.ID),
		zap.Int64("killer_id", killerID))
}

func (s *CombatSystem) rollDrops(ctx context.Context, def *data.EntityDef, target *world.EntityInstance, killerID int64) {
	for _, drop := range s.catalog.Drops.Get(def.ID) {
		if s.rng.Intn(data.DropChanceScale) >= drop.Chance {
			continue
		}
		qty := drop.Min
		if drop.Max > drop.Min {
			qty += s.rng.Intn(drop.Max - drop.Min + 1)
		}
		if qty <= 0 {
			continue
		}
		var durability *int
		if item := s.catalog.Items.Get(drop.ItemID); item != nil && item.HasDurability() {
			d := item.MaxDurability
			durability = &d
		}
		if _, err := s.world.Ground.Create(ctx, drop.ItemID, target.MapID, target.X, target.Y, qty, durability, killerID); err != nil {
			s.log.Error("spawn drop",
				zap.Int64("entity_id", target.ID),
				zap.Int64("item_id", drop.ItemID),
				zap.Error(err))
		}
	}
}

// EntityAttack is one monster swing at a player. Runs on the game loop only.
func (s *CombatSystem) EntityAttack(ctx context.Context, e *world.EntityInstance, def *data.EntityDef, playerID int64) {
	php, err := s.world.Players.GetHP(ctx, playerID)
	if err != nil || php.Current <= 0 {
		if cerr := s.world.Entities.SetTarget(ctx, e.ID, 0); cerr != nil && cerr != world.ErrEntityGone {
			s.log.Warn("drop stale target", zap.Int64("entity_id", e.ID), zap.Error(cerr))
		}
		return
	}

	defenceLvl, err := s.world.Skills.Level(ctx, playerID, data.SkillDefence)
	if err != nil {
		s.log.Error("read defence level", zap.Int64("player_id", playerID), zap.Error(err))
		return
	}
	_, armour, err := s.world.Equipment.Bonuses(ctx, playerID)
	if err != nil {
		s.log.Error("read armour bonus", zap.Int64("player_id", playerID), zap.Error(err))
		return
	}

	res := s.engine.CalcEntityAttack(scripting.EntityAttackContext{
		EntityDamage: def.AttackDamage,
		DefenceLevel: defenceLvl,
		ArmourBonus:  armour,
		RollHit:      s.rng.Float64(),
		RollDamage:   s.rng.Float64(),
	})

	if err := s.world.Entities.SetFields(ctx, e.ID, "state", world.EntityAttack, "last_attack_tick", s.tick); err != nil {
		if err != world.ErrEntityGone {
			s.log.Warn("mark entity swing", zap.Int64("entity_id", e.ID), zap.Error(err))
		}
		return
	}
	e.LastAttackTick = s.tick
	e.State = world.EntityAttack

	if !res.IsHit || res.Damage <= 0 {
		return
	}

	_, dealt, died, err := s.hp.DealDamage(ctx, playerID, res.Damage)
	if err != nil {
		s.log.Error("entity damage", zap.Int64("player_id", playerID), zap.Error(err))
		return
	}

	// Getting hit trains defence.
	if dealt > 0 {
		if _, err := s.world.Skills.AddExperience(ctx, playerID, data.SkillDefence, int64(dealt)*xpPerDamage); err != nil {
			s.log.Error("award defence xp", zap.Int64("player_id", playerID), zap.Error(err))
		}
	}

	if died {
		if err := s.world.Entities.SetTarget(ctx, e.ID, 0); err != nil && err != world.ErrEntityGone {
			s.log.Warn("drop dead target", zap.Int64("entity_id", e.ID), zap.Error(err))
		}
	}
}
