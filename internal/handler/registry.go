package handler

import (
	"errors"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
	"github.com/openrealm/server/internal/world"
)

// HandlerFunc is the callback signature for command handlers.
type HandlerFunc func(s *net.Session, env *net.Envelope, deps *Deps)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[net.SessionState]bool
}

// Registry maps command types to handlers with state-based access control.
type Registry struct {
	handlers map[string]*handlerEntry
	deps     *Deps
	log      *zap.Logger
}

func NewRegistry(deps *Deps) *Registry {
	return &Registry{
		handlers: make(map[string]*handlerEntry, 16),
		deps:     deps,
		log:      deps.Log.Named("handler"),
	}
}

// Register maps a command type to a handler, restricted to the given states.
func (reg *Registry) Register(cmdType string, states []net.SessionState, fn HandlerFunc) {
	allowed := make(map[net.SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[cmdType] = &handlerEntry{fn: fn, allowedStates: allowed}
}

// Dispatch routes one envelope. A panicking handler drops only the session
// that triggered it, never the server.
func (reg *Registry) Dispatch(s *net.Session, env *net.Envelope) {
	entry, ok := reg.handlers[env.Type]
	if !ok {
		s.SendEnvelope(env.ID, "resp_error", map[string]any{
			"code":    system.CodeBadRequest,
			"message": "unknown command " + env.Type,
		})
		return
	}

	if !entry.allowedStates[s.State()] {
		if s.State() == net.StateInWorld {
			s.SendEnvelope(env.ID, "resp_error", map[string]any{
				"code":    system.CodeBadRequest,
				"message": "command not allowed in this state",
			})
			return
		}
		// Unauthenticated sessions get one error and the door.
		s.SendEnvelope(env.ID, "resp_error", map[string]any{
			"code":    system.CodeNotAuthenticated,
			"message": "authentication required",
		})
		s.Close()
		return
	}

	reg.safeCall(s, env, entry.fn)
}

func (reg *Registry) safeCall(s *net.Session, env *net.Envelope, fn HandlerFunc) {
	defer func() {
		if r := recover(); r != nil {
			reg.log.Error("handler panic",
				zap.String("type", env.Type),
				zap.Uint64("session", s.ID),
				zap.Int64("player_id", s.PlayerID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			respondErr(s, env.ID, system.NewFault(system.CodeInternal, "internal error"))
			s.Close()
		}
	}()
	fn(s, env, reg.deps)
}

// respondOK sends resp_success sharing the command's id.
func respondOK(s *net.Session, id uint64, data any) {
	s.SendEnvelope(id, "resp_success", data)
}

// respondErr sends resp_error. Non-fault errors are masked as internal.
func respondErr(s *net.Session, id uint64, err error) {
	f := faultFor(err)
	payload := map[string]any{"code": f.Code, "message": f.Message}
	for k, v := range f.Data {
		payload[k] = v
	}
	s.SendEnvelope(id, "resp_error", payload)
}

// faultFor translates manager sentinels into player-visible faults.
func faultFor(err error) *system.Fault {
	var f *system.Fault
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, world.ErrInventoryFull):
		return system.NewFault(system.CodeInventoryFull, "inventory is full")
	case errors.Is(err, world.ErrIllegalSlot):
		return system.NewFault(system.CodeIllegalSlot, "illegal slot")
	case errors.Is(err, world.ErrSlotEmpty):
		return system.NewFault(system.CodeSlotEmpty, "slot is empty")
	case errors.Is(err, world.ErrUnknownItem):
		return system.NewFault(system.CodeUnknownItem, "unknown item")
	case errors.Is(err, world.ErrNotEquippable):
		return system.NewFault(system.CodeNotEquippable, "item cannot be equipped")
	case errors.Is(err, world.ErrConflict):
		return system.NewFault(system.CodeConflict, "state changed underneath, retry")
	case errors.Is(err, world.ErrUnknownSkill):
		return system.NewFault(system.CodeUnknownSkill, "unknown skill")
	case errors.Is(err, world.ErrGroundGone):
		return system.NewFault(system.CodeNotFound, "item is gone")
	case errors.Is(err, world.ErrGroundPrivate):
		return system.NewFault(system.CodeNotFound, "item is gone")
	case errors.Is(err, world.ErrEntityGone):
		return system.NewFault(system.CodeNotFound, "target does not exist")
	}
	return system.NewFault(system.CodeInternal, "internal error")
}
