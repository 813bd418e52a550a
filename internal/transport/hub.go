// Package transport is the real-time fan-out layer: per-connection
// identity, named groups and group emits. It knows nothing about rooms;
// the coordinator decides which group hears what.
package transport

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Emitter is what the coordinator sees. Emits serialize the payload
// once and enqueue it on every member's outbox without blocking, so a
// caller may emit while holding a lock.
type Emitter interface {
	JoinGroup(id ConnID, group string)
	LeaveGroup(id ConnID, group string)
	EmitToGroup(group, event string, payload any)
	// BroadcastToGroup emits to every group member except one (the
	// originator of the event).
	BroadcastToGroup(group string, except ConnID, event string, payload any)
	EmitToConnection(id ConnID, event string, payload any)
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Hub struct {
	mu     sync.RWMutex
	conns  map[ConnID]*Conn
	groups map[string]map[ConnID]struct{}
	joined map[ConnID]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[ConnID]*Conn),
		groups: make(map[string]map[ConnID]struct{}),
		joined: make(map[ConnID]map[string]struct{}),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	log.Debug().Str("module", "transport").Str("conn", string(c.ID())).Msg("registered")
}

// Unregister drops the connection from every group and closes it.
func (h *Hub) Unregister(id ConnID) {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	for group := range h.joined[id] {
		h.dropFromGroup(id, group)
	}
	delete(h.joined, id)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
	log.Debug().Str("module", "transport").Str("conn", string(id)).Msg("unregistered")
}

func (h *Hub) JoinGroup(id ConnID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[ConnID]struct{})
	}
	h.groups[group][id] = struct{}{}
	if h.joined[id] == nil {
		h.joined[id] = make(map[string]struct{})
	}
	h.joined[id][group] = struct{}{}
}

func (h *Hub) LeaveGroup(id ConnID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromGroup(id, group)
	delete(h.joined[id], group)
}

// dropFromGroup assumes h.mu is held.
func (h *Hub) dropFromGroup(id ConnID, group string) {
	delete(h.groups[group], id)
	if len(h.groups[group]) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) EmitToGroup(group, event string, payload any) {
	h.BroadcastToGroup(group, "", event, payload)
}

func (h *Hub) BroadcastToGroup(group string, except ConnID, event string, payload any) {
	b, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Str("event", event).Msg("marshal")
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if id == except {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if err := c.TrySend(b); err != nil {
			log.Warn().Str("module", "transport").Str("conn", string(c.ID())).Str("event", event).Err(err).Msg("frame dropped")
		}
	}
}

func (h *Hub) EmitToConnection(id ConnID, event string, payload any) {
	b, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Str("event", event).Msg("marshal")
		return
	}
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Str("module", "transport").Str("conn", string(id)).Str("event", event).Err(err).Msg("frame dropped")
	}
}
