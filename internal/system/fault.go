// Package system holds the per-tick game systems and the command-facing
// services. Systems implement core/system.System and run on the game loop;
// services are called from session goroutines and either act on the cache
// directly or queue work for the loop.
package system

import "fmt"

// Stable error codes surfaced to clients in resp_error envelopes.
const (
	CodeInvalidDirection = "invalid_direction"
	CodePlayerNotOnline  = "player_not_online"
	CodeRateLimited      = "rate_limited"
	CodeBlocked          = "blocked"
	CodeNotFound         = "not_found"
	CodeDead             = "dead"
	CodeTooFar           = "too_far"
	CodeNotImplemented   = "not_implemented"
	CodeInventoryFull    = "inventory_full"
	CodeIllegalSlot      = "illegal_slot"
	CodeSlotEmpty        = "slot_empty"
	CodeUnknownItem      = "unknown_item"
	CodeNotEquippable    = "not_equippable"
	CodeConflict         = "conflict"
	CodeUnknownSkill     = "unknown_skill"
	CodeBadRequest       = "bad_request"
	CodeNotAuthenticated = "not_authenticated"
	CodeAuthFailed       = "auth_failed"
	CodeBanned           = "banned"
	CodeTimedOut         = "timed_out"
	CodeAlreadyOnline    = "already_online"
	CodeInternal         = "internal_error"
)

// Fault is a player-visible failure. Anything else that escapes a service is
// an internal error and is reported to the client as CodeInternal.
type Fault struct {
	Code    string
	Message string
	Data    map[string]any // optional structured detail, e.g. cooldown remaining
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func NewFault(code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

func (f *Fault) With(key string, value any) *Fault {
	if f.Data == nil {
		f.Data = make(map[string]any, 2)
	}
	f.Data[key] = value
	return f
}
