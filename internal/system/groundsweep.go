package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/openrealm/server/internal/core/system"
	"github.com/openrealm/server/internal/world"
)

// GroundSweepSystem despawns ground items past their despawn time.
type GroundSweepSystem struct {
	ctx    context.Context
	ground *world.GroundItemManager
	log    *zap.Logger
}

func NewGroundSweepSystem(ctx context.Context, ground *world.GroundItemManager, log *zap.Logger) *GroundSweepSystem {
	return &GroundSweepSystem{ctx: ctx, ground: ground, log: log.Named("groundsweep")}
}

func (s *GroundSweepSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *GroundSweepSystem) Update(dt time.Duration) {
	swept, err := s.ground.SweepExpired(s.ctx)
	if err != nil {
		s.log.Error("sweep ground items", zap.Error(err))
		return
	}
	if len(swept) > 0 {
		s.log.Debug("ground items despawned", zap.Int("count", len(swept)))
	}
}
