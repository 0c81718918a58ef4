package world

import (
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"go.uber.org/zap"
)

// World bundles the per-entity managers. One instance is constructed at
// startup and injected into handlers and systems; there are no package-level
// mutable globals.
type World struct {
	Players   *PlayerStateManager
	Inventory *InventoryManager
	Equipment *EquipmentManager
	Skills    *SkillsManager
	Ground    *GroundItemManager
	Entities  *EntityManager
}

// Deps carries everything the managers share.
type Deps struct {
	Cache   *cache.Client
	Clock   clock.Clock
	Bus     *event.Bus
	Catalog *data.Catalog
	XP      *data.XPTable
	Log     *zap.Logger

	Players   PlayerLoader
	Inventory InventoryLoader
	Equipment EquipmentLoader
	Skills    SkillLoader

	StateTTL      time.Duration
	GroundPrivacy time.Duration
	GroundDespawn time.Duration
}

func New(d Deps) *World {
	players := NewPlayerStateManager(d.Cache, d.Players, d.Clock, d.Bus, d.StateTTL, d.Log)
	inv := NewInventoryManager(d.Cache, d.Inventory, d.Catalog.Items, d.Bus, d.StateTTL, d.Log)
	equip := NewEquipmentManager(d.Cache, d.Equipment, inv, d.Catalog.Items, d.Bus, d.StateTTL, d.Log)
	skills := NewSkillsManager(d.Cache, d.Skills, d.Catalog.Skills, d.XP, d.Bus, d.StateTTL, d.Log)
	ground := NewGroundItemManager(d.Cache, d.Catalog.Items, inv, d.Clock, d.Bus, d.GroundPrivacy, d.GroundDespawn, d.Log)
	entities := NewEntityManager(d.Cache, d.Catalog.Entities, d.Clock, d.Bus, d.Log)
	return &World{
		Players:   players,
		Inventory: inv,
		Equipment: equip,
		Skills:    skills,
		Ground:    ground,
		Entities:  entities,
	}
}
