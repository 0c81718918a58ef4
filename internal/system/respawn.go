package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/world"
)

// RespawnSystem revives entities whose respawn timers expired.
type RespawnSystem struct {
	ctx      context.Context
	entities *world.EntityManager
	log      *zap.Logger
}

func NewRespawnSystem(ctx context.Context, entities *world.EntityManager, log *zap.Logger) *RespawnSystem {
	return &RespawnSystem{ctx: ctx, entities: entities, log: log.Named("respawn")}
}

func (s *RespawnSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *RespawnSystem) Update(dt time.Duration) {
	due, err := s.entities.DueRespawns(s.ctx)
	if err != nil {
		s.log.Error("poll respawn queue", zap.Error(err))
		return
	}
	for _, id := range due {
		if _, err := s.entities.Respawn(s.ctx, id); err != nil {
			s.log.Error("respawn entity", zap.Int64("entity_id", id), zap.Error(err))
		}
	}
}
