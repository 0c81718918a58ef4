package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
	"go.uber.org/zap"
)

var ErrUnknownSkill = errors.New("world: unknown skill")

// XPGain reports the outcome of one experience award.
type XPGain struct {
	PreviousLevel int
	CurrentLevel  int
	XPGained      int64
	LeveledUp     bool
}

// SkillsManager owns per-player skill levels and experience. Levels are never
// stored authoritatively; they re-derive from total XP through the table.
type SkillsManager struct {
	cache  *cache.Client
	repo   SkillLoader
	skills *data.SkillTable
	xp     *data.XPTable
	bus    *event.Bus
	ttl    time.Duration
	log    *zap.Logger
}

// SkillLoader is the durable-store read side used on a cache miss.
type SkillLoader interface {
	Load(ctx context.Context, playerID int64) ([]persist.PlayerSkillRow, error)
}

func NewSkillsManager(c *cache.Client, repo SkillLoader, skills *data.SkillTable, xp *data.XPTable, bus *event.Bus, ttl time.Duration, log *zap.Logger) *SkillsManager {
	return &SkillsManager{cache: c, repo: repo, skills: skills, xp: xp, bus: bus, ttl: ttl, log: log}
}

// GetSkills returns every trained skill keyed by name.
func (m *SkillsManager) GetSkills(ctx context.Context, playerID int64) (map[string]SkillState, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerSkills(playerID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return m.hydrate(ctx, playerID)
	}
	out := make(map[string]SkillState, len(h))
	for name, v := range h {
		s, err := decodeSkill(v)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func (m *SkillsManager) hydrate(ctx context.Context, playerID int64) (map[string]SkillState, error) {
	rows, err := m.repo.Load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("hydrate skills %d: %w", playerID, err)
	}
	out := make(map[string]SkillState, len(rows))
	for _, r := range rows {
		def := m.skills.Get(r.SkillID)
		if def == nil {
			m.log.Warn("stored skill has no definition",
				zap.Int64("player_id", playerID), zap.Int64("skill_id", r.SkillID))
			continue
		}
		s := SkillState{Level: r.Level, XP: r.Experience}
		out[def.Name] = s
		if err := m.cache.HSet(ctx, cache.KeyPlayerSkills(playerID), def.Name, encodeSkill(s)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GrantAll ensures the player holds every defined skill at its start level
// with XP back-derived from the table. Idempotent: existing entries are
// untouched.
func (m *SkillsManager) GrantAll(ctx context.Context, playerID int64) error {
	current, err := m.GetSkills(ctx, playerID)
	if err != nil {
		return err
	}
	granted := false
	for _, def := range m.skills.All() {
		if _, ok := current[def.Name]; ok {
			continue
		}
		s := SkillState{Level: def.StartLevel, XP: m.xp.XPForLevel(def.StartLevel)}
		if err := m.cache.HSet(ctx, cache.KeyPlayerSkills(playerID), def.Name, encodeSkill(s)); err != nil {
			return err
		}
		granted = true
	}
	if granted {
		if err := markDirty(ctx, m.cache, CategorySkills, playerID); err != nil {
			return err
		}
	}
	return nil
}

// AddExperience awards XP (scaled by the skill's multiplier) and recomputes
// the level from the new total.
func (m *SkillsManager) AddExperience(ctx context.Context, playerID int64, skillName string, amount int64) (*XPGain, error) {
	def := m.skills.GetByName(skillName)
	if def == nil {
		return nil, ErrUnknownSkill
	}
	if amount < 0 {
		return nil, fmt.Errorf("world: negative xp award %d", amount)
	}
	skills, err := m.GetSkills(ctx, playerID)
	if err != nil {
		return nil, err
	}
	cur, ok := skills[skillName]
	if !ok {
		cur = SkillState{Level: def.StartLevel, XP: m.xp.XPForLevel(def.StartLevel)}
	}

	gained := int64(float64(amount) * def.XPMultiplier)
	next := SkillState{XP: cur.XP + gained}
	next.Level = m.xp.LevelForXP(next.XP)

	if err := m.cache.HSet(ctx, cache.KeyPlayerSkills(playerID), skillName, encodeSkill(next)); err != nil {
		return nil, err
	}
	if err := markDirty(ctx, m.cache, CategorySkills, playerID); err != nil {
		return nil, err
	}

	gain := &XPGain{
		PreviousLevel: cur.Level,
		CurrentLevel:  next.Level,
		XPGained:      gained,
		LeveledUp:     next.Level > cur.Level,
	}
	event.Emit(m.bus, event.SkillChanged{
		PlayerID: playerID, Skill: skillName,
		Level: next.Level, XP: next.XP, LeveledUp: gain.LeveledUp,
	})
	return gain, nil
}

// Level returns the current level of one skill, start level when untrained.
func (m *SkillsManager) Level(ctx context.Context, playerID int64, skillName string) (int, error) {
	def := m.skills.GetByName(skillName)
	if def == nil {
		return 0, ErrUnknownSkill
	}
	skills, err := m.GetSkills(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if s, ok := skills[skillName]; ok {
		return s.Level, nil
	}
	return def.StartLevel, nil
}

func (m *SkillsManager) Clear(ctx context.Context, playerID int64) error {
	return m.cache.Del(ctx, cache.KeyPlayerSkills(playerID))
}
