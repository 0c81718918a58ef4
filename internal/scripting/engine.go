package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for game formula execution.
// Single-goroutine access only (game loop owns it). Randomness enters as
// pre-rolled values in the context tables so the VM stays deterministic.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory and its feature subdirectories.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	for _, sub := range []string{"combat", "experience", "ai"} {
		if err := e.loadDir(filepath.Join(scriptsDir, sub)); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// AttackContext holds pre-packed data for a player attack calculation.
type AttackContext struct {
	AttackLevel   int
	StrengthLevel int
	WeaponBonus   int // attack bonus of the equipped weapon (0 = unarmed)

	DefenceLevel int
	ArmourBonus  int // summed defence bonuses of the target's equipment

	RollHit    float64 // [0,1) hit roll
	RollDamage float64 // [0,1) damage roll
}

// EntityAttackContext holds pre-packed data for an entity striking a player.
type EntityAttackContext struct {
	EntityDamage int // entity definition attack_damage

	DefenceLevel int
	ArmourBonus  int

	RollHit    float64
	RollDamage float64
}

// AttackResult is returned by the Lua attack functions.
type AttackResult struct {
	IsHit  bool
	Damage int
}

// CalcAttack calls the Lua calc_attack function for a player-sourced hit.
func (e *Engine) CalcAttack(ctx AttackContext) AttackResult {
	fn := e.vm.GetGlobal("calc_attack")
	if fn == lua.LNil {
		e.log.Error("lua function calc_attack not found")
		return AttackResult{IsHit: true, Damage: 1}
	}

	t := e.vm.NewTable()

	atk := e.vm.NewTable()
	atk.RawSetString("attack_level", lua.LNumber(ctx.AttackLevel))
	atk.RawSetString("strength_level", lua.LNumber(ctx.StrengthLevel))
	atk.RawSetString("weapon_bonus", lua.LNumber(ctx.WeaponBonus))
	t.RawSetString("attacker", atk)

	def := e.vm.NewTable()
	def.RawSetString("defence_level", lua.LNumber(ctx.DefenceLevel))
	def.RawSetString("armour_bonus", lua.LNumber(ctx.ArmourBonus))
	t.RawSetString("defender", def)

	t.RawSetString("roll_hit", lua.LNumber(ctx.RollHit))
	t.RawSetString("roll_dmg", lua.LNumber(ctx.RollDamage))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_attack error", zap.Error(err))
		return AttackResult{IsHit: true, Damage: 1}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua calc_attack returned non-table")
		return AttackResult{IsHit: true, Damage: 1}
	}

	return AttackResult{
		IsHit:  rt.RawGetString("is_hit") == lua.LTrue,
		Damage: lInt(rt, "damage"),
	}
}

// CalcEntityAttack calls the Lua calc_entity_attack function.
func (e *Engine) CalcEntityAttack(ctx EntityAttackContext) AttackResult {
	fn := e.vm.GetGlobal("calc_entity_attack")
	if fn == lua.LNil {
		e.log.Error("lua function calc_entity_attack not found")
		return AttackResult{IsHit: true, Damage: 1}
	}

	t := e.vm.NewTable()
	t.RawSetString("entity_damage", lua.LNumber(ctx.EntityDamage))

	def := e.vm.NewTable()
	def.RawSetString("defence_level", lua.LNumber(ctx.DefenceLevel))
	def.RawSetString("armour_bonus", lua.LNumber(ctx.ArmourBonus))
	t.RawSetString("defender", def)

	t.RawSetString("roll_hit", lua.LNumber(ctx.RollHit))
	t.RawSetString("roll_dmg", lua.LNumber(ctx.RollDamage))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_entity_attack error", zap.Error(err))
		return AttackResult{IsHit: true, Damage: 1}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		e.log.Error("lua calc_entity_attack returned non-table")
		return AttackResult{IsHit: true, Damage: 1}
	}

	return AttackResult{
		IsHit:  rt.RawGetString("is_hit") == lua.LTrue,
		Damage: lInt(rt, "damage"),
	}
}

// LevelFromXP calls Lua level_from_xp(xp).
func (e *Engine) LevelFromXP(xp int64) int {
	return e.callIntFunc("level_from_xp", int(xp))
}

// XPForLevel calls Lua xp_for_level(level).
func (e *Engine) XPForLevel(level int) int64 {
	return int64(e.callIntFunc("xp_for_level", level))
}

// --- Durability Bridge ---

// DurabilityContext holds data for a weapon durability loss roll.
type DurabilityContext struct {
	DamageDealt   int
	Durability    int
	MaxDurability int
	Roll          float64 // [0,1)
}

// CalcDurabilityLoss calls Lua calc_durability_loss(ctx). Returns the
// durability points to subtract (0 = the strike cost nothing).
func (e *Engine) CalcDurabilityLoss(ctx DurabilityContext) int {
	fn := e.vm.GetGlobal("calc_durability_loss")
	if fn == lua.LNil {
		return 0
	}

	t := e.vm.NewTable()
	t.RawSetString("damage_dealt", lua.LNumber(ctx.DamageDealt))
	t.RawSetString("durability", lua.LNumber(ctx.Durability))
	t.RawSetString("max_durability", lua.LNumber(ctx.MaxDurability))
	t.RawSetString("roll", lua.LNumber(ctx.Roll))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_durability_loss error", zap.Error(err))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return 0
	}
	loss := lInt(rt, "loss")
	if loss < 0 {
		loss = 0
	}
	return loss
}

// --- Entity AI Bridge ---

// AIContext holds pre-packed data for an entity AI decision. Target fields
// are zero when Go found no candidate; the rolls are pre-drawn so the same
// context always yields the same decision.
type AIContext struct {
	EntityID int64
	State    string
	X, Y     int

	Behavior        string
	AggroRadius     int
	DisengageRadius int
	AttackRange     int
	WanderRadius    int

	TargetID        int64
	TargetX         int
	TargetY         int
	TargetDist      int // Chebyshev, entity to target
	TargetSpawnDist int // Chebyshev, target to the entity's spawn point

	CanAttack    bool
	SpawnDist    int
	WanderChance float64
	WanderRoll   float64 // [0,1)
	DirRoll      int     // 0..3
}

// AIDecision is the single action returned by Lua entity_ai.
type AIDecision struct {
	Action string // "idle", "wander", "chase", "attack", "leash"
	DX, DY int    // step delta for wander
}

// EntityAI calls Lua entity_ai(ctx). Go detects candidates and executes the
// returned action; the script only decides.
func (e *Engine) EntityAI(ctx AIContext) AIDecision {
	fn := e.vm.GetGlobal("entity_ai")
	if fn == lua.LNil {
		return AIDecision{Action: "idle"}
	}

	t := e.vm.NewTable()
	t.RawSetString("entity_id", lua.LNumber(ctx.EntityID))
	t.RawSetString("state", lua.LString(ctx.State))
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("y", lua.LNumber(ctx.Y))
	t.RawSetString("behavior", lua.LString(ctx.Behavior))
	t.RawSetString("aggro_radius", lua.LNumber(ctx.AggroRadius))
	t.RawSetString("disengage_radius", lua.LNumber(ctx.DisengageRadius))
	t.RawSetString("attack_range", lua.LNumber(ctx.AttackRange))
	t.RawSetString("wander_radius", lua.LNumber(ctx.WanderRadius))
	t.RawSetString("target_id", lua.LNumber(ctx.TargetID))
	t.RawSetString("target_x", lua.LNumber(ctx.TargetX))
	t.RawSetString("target_y", lua.LNumber(ctx.TargetY))
	t.RawSetString("target_dist", lua.LNumber(ctx.TargetDist))
	t.RawSetString("target_spawn_dist", lua.LNumber(ctx.TargetSpawnDist))
	if ctx.CanAttack {
		t.RawSetString("can_attack", lua.LTrue)
	} else {
		t.RawSetString("can_attack", lua.LFalse)
	}
	t.RawSetString("spawn_dist", lua.LNumber(ctx.SpawnDist))
	t.RawSetString("wander_chance", lua.LNumber(ctx.WanderChance))
	t.RawSetString("wander_roll", lua.LNumber(ctx.WanderRoll))
	t.RawSetString("dir_roll", lua.LNumber(ctx.DirRoll))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua entity_ai error", zap.Error(err), zap.Int64("entity_id", ctx.EntityID))
		return AIDecision{Action: "idle"}
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return AIDecision{Action: "idle"}
	}

	return AIDecision{
		Action: lStr(rt, "action"),
		DX:     lInt(rt, "dx"),
		DY:     lInt(rt, "dy"),
	}
}

// --- Lua helpers ---

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// callIntFunc calls a Lua function with int args and returns an int result.
func (e *Engine) callIntFunc(name string, args ...int) int {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		e.log.Error("lua function not found", zap.String("name", name))
		return 0
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
