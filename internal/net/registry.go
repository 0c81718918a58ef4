package net

import (
	"sync"

	"go.uber.org/zap"
)

// Registry tracks live sessions by connection id, player id and map. It is
// written from session goroutines and read from the game loop, so every
// method takes the lock.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uint64]*Session
	byPlayer map[int64]*Session
	byMap    map[string]map[uint64]*Session
	mapOf    map[uint64]string // session id -> current map
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		byID:     make(map[uint64]*Session),
		byPlayer: make(map[int64]*Session),
		byMap:    make(map[string]map[uint64]*Session),
		mapOf:    make(map[uint64]string),
		log:      log.Named("registry"),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.byID[s.ID] = s
	r.mu.Unlock()
}

// Remove drops a session from every index and returns the player id it was
// bound to (0 if unauthenticated).
func (r *Registry) Remove(sessionID uint64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return 0
	}
	delete(r.byID, sessionID)
	if mapID, ok := r.mapOf[sessionID]; ok {
		delete(r.byMap[mapID], sessionID)
		if len(r.byMap[mapID]) == 0 {
			delete(r.byMap, mapID)
		}
		delete(r.mapOf, sessionID)
	}
	pid := s.PlayerID()
	if pid != 0 && r.byPlayer[pid] == s {
		delete(r.byPlayer, pid)
	}
	return pid
}

// BindPlayer indexes an authenticated session under its player id and map.
func (r *Registry) BindPlayer(s *Session, playerID int64, mapID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPlayer[playerID] = s
	r.placeLocked(s, mapID)
}

// SetMap moves a session between map indexes.
func (r *Registry) SetMap(playerID int64, mapID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPlayer[playerID]
	if !ok {
		return
	}
	if old, ok := r.mapOf[s.ID]; ok {
		if old == mapID {
			return
		}
		delete(r.byMap[old], s.ID)
		if len(r.byMap[old]) == 0 {
			delete(r.byMap, old)
		}
	}
	r.placeLocked(s, mapID)
}

func (r *Registry) placeLocked(s *Session, mapID string) {
	m, ok := r.byMap[mapID]
	if !ok {
		m = make(map[uint64]*Session)
		r.byMap[mapID] = m
	}
	m[s.ID] = s
	r.mapOf[s.ID] = mapID
}

func (r *Registry) ByPlayer(playerID int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPlayer[playerID]
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// OnMap snapshots the sessions currently indexed on a map.
func (r *Registry) OnMap(mapID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byMap[mapID]))
	for _, s := range r.byMap[mapID] {
		out = append(out, s)
	}
	return out
}

// All snapshots every authenticated session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byPlayer))
	for _, s := range r.byPlayer {
		out = append(out, s)
	}
	return out
}

// Fanout sends a pre-encoded frame to every session on a map. keep filters
// by player id; nil means everyone.
func (r *Registry) Fanout(mapID string, keep func(playerID int64) bool, frame []byte) {
	for _, s := range r.OnMap(mapID) {
		if keep != nil && !keep(s.PlayerID()) {
			continue
		}
		s.Send(frame)
	}
}

// Broadcast sends a pre-encoded frame to every authenticated session.
func (r *Registry) Broadcast(frame []byte) {
	for _, s := range r.All() {
		s.Send(frame)
	}
}

// CloseAll disconnects everything. Shutdown path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}
