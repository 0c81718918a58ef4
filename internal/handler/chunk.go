package handler

import (
	"fmt"

	"github.com/openrealm/server/internal/net"
	"github.com/openrealm/server/internal/system"
)

type chunkPayload struct {
	MapID string `msgpack:"map_id"`
	CX    int    `msgpack:"cx"`
	CY    int    `msgpack:"cy"`
}

// HandleChunkRequest serves one 16x16 tile chunk. Chunks are immutable so
// the encoded payload is cached across all sessions.
func HandleChunkRequest(s *net.Session, env *net.Envelope, deps *Deps) {
	var p chunkPayload
	if err := env.Decode(&p); err != nil {
		respondErr(s, env.ID, err)
		return
	}

	key := []byte(fmt.Sprintf("%s:%d:%d", p.MapID, p.CX, p.CY))
	if tiles := deps.Chunks.Get(nil, key); len(tiles) > 0 {
		respondChunk(s, env.ID, p, tiles)
		return
	}

	m := deps.Catalog.Maps.Get(p.MapID)
	if m == nil {
		respondErr(s, env.ID, system.NewFault(system.CodeNotFound, "unknown map"))
		return
	}
	tiles := m.Chunk(p.CX, p.CY)
	if tiles == nil {
		respondErr(s, env.ID, system.NewFault(system.CodeNotFound, "chunk out of bounds"))
		return
	}

	deps.Chunks.Set(key, tiles)
	respondChunk(s, env.ID, p, tiles)
}

// respondChunk answers with event_chunk_data sharing the command id; chunk
// data is the one command reply clients treat as a map stream event.
func respondChunk(s *net.Session, id uint64, p chunkPayload, tiles []byte) {
	s.SendEnvelope(id, "event_chunk_data", map[string]any{
		"map_id": p.MapID,
		"cx":     p.CX,
		"cy":     p.CY,
		"size":   16,
		"tiles":  tiles,
	})
}
