package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhasePreUpdate  Phase = iota // 0: swap event buffers
	PhaseUpdate                  // 1: entity AI, combat queues
	PhasePostUpdate              // 2: respawn + ground sweepers
	PhaseOutput                  // 3: dispatch events, build + send envelopes
	PhasePersist                 // 4: batch sync to the durable store
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
