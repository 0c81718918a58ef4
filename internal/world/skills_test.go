package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/data"
)

func TestGrantAll(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Skills.GrantAll(ctx, 1))
	skills, err := tw.Skills.GetSkills(ctx, 1)
	require.NoError(t, err)
	require.Len(t, skills, 4)
	require.Equal(t, 1, skills[data.SkillAttack].Level)
	require.Equal(t, 10, skills[data.SkillHitpoints].Level)
	// XP backs the granted level so the next award doesn't de-level.
	require.EqualValues(t, 8100, skills[data.SkillHitpoints].XP)

	// Idempotent: existing progress survives a re-grant.
	_, err = tw.Skills.AddExperience(ctx, 1, data.SkillAttack, 500)
	require.NoError(t, err)
	require.NoError(t, tw.Skills.GrantAll(ctx, 1))
	skills, err = tw.Skills.GetSkills(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 500, skills[data.SkillAttack].XP)
}

func TestAddExperienceLevelsUp(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	require.NoError(t, tw.Skills.GrantAll(ctx, 1))

	// 100*(n-1)^2 curve: level 2 at 100, level 3 at 400.
	gain, err := tw.Skills.AddExperience(ctx, 1, data.SkillAttack, 99)
	require.NoError(t, err)
	require.False(t, gain.LeveledUp)
	require.Equal(t, 1, gain.CurrentLevel)

	gain, err = tw.Skills.AddExperience(ctx, 1, data.SkillAttack, 1)
	require.NoError(t, err)
	require.True(t, gain.LeveledUp)
	require.Equal(t, 1, gain.PreviousLevel)
	require.Equal(t, 2, gain.CurrentLevel)

	// A large award can jump several levels at once.
	gain, err = tw.Skills.AddExperience(ctx, 1, data.SkillAttack, 800)
	require.NoError(t, err)
	require.True(t, gain.LeveledUp)
	require.Equal(t, 4, gain.CurrentLevel)

	lvl, err := tw.Skills.Level(ctx, 1, data.SkillAttack)
	require.NoError(t, err)
	require.Equal(t, 4, lvl)
}

func TestAddExperienceUnknownSkill(t *testing.T) {
	tw := newTestWorld(t)
	_, err := tw.Skills.AddExperience(context.Background(), 1, "carpentry", 10)
	require.ErrorIs(t, err, ErrUnknownSkill)
}

func TestSkillsHydration(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	w := New(Deps{
		Cache:   tw.cache,
		Clock:   tw.clk,
		Bus:     tw.bus,
		Catalog: &data.Catalog{Items: testItems(), Skills: testSkillDefs(), Entities: testEntityDefs()},
		XP:      testXPTable(),
		Log:     zap.NewNop(),
		Players: stubPlayers{},
		Skills: stubSkills{6: {
			{SkillID: 1, Level: 40, Experience: 152100},
			{SkillID: 99, Level: 5, Experience: 1600},
		}},
		Inventory: stubInventory{},
		Equipment: stubEquipment{},
	})

	skills, err := w.Skills.GetSkills(ctx, 6)
	require.NoError(t, err)
	// The unknown skill id is dropped, the known one survives.
	require.Len(t, skills, 1)
	require.Equal(t, SkillState{Level: 40, XP: 152100}, skills[data.SkillAttack])
}
