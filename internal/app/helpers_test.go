package app

import (
	"sync"

	"github.com/spf13/afero"

	"keyroom/internal/blob"
	"keyroom/internal/store"
	"keyroom/internal/transport"
)

// fakeEmitter records every emit so tests can assert on audiences and
// ordering without a real hub.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	groups map[string]map[transport.ConnID]struct{}
}

type emitted struct {
	Group   string
	Conn    transport.ConnID
	Except  transport.ConnID
	Event   string
	Payload any
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{groups: make(map[string]map[transport.ConnID]struct{})}
}

func (f *fakeEmitter) JoinGroup(id transport.ConnID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[transport.ConnID]struct{})
	}
	f.groups[group][id] = struct{}{}
}

func (f *fakeEmitter) LeaveGroup(id transport.ConnID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], id)
}

func (f *fakeEmitter) EmitToGroup(group, event string, payload any) {
	f.record(emitted{Group: group, Event: event, Payload: payload})
}

func (f *fakeEmitter) BroadcastToGroup(group string, except transport.ConnID, event string, payload any) {
	f.record(emitted{Group: group, Except: except, Event: event, Payload: payload})
}

func (f *fakeEmitter) EmitToConnection(id transport.ConnID, event string, payload any) {
	f.record(emitted{Conn: id, Event: event, Payload: payload})
}

func (f *fakeEmitter) record(e emitted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEmitter) count(group, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Group == group && e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) inGroup(id transport.ConnID, group string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.groups[group][id]
	return ok
}

type testApp struct {
	store    *store.Memory
	blobs    *blob.Store
	emitter  *fakeEmitter
	presence *Presence
	rooms    *RoomRegistry
	binder   *SessionBinder
	gate     *FileGate
}

func newTestApp() *testApp {
	st := store.NewMemory()
	blobs := blob.New(afero.NewMemMapFs(), "uploads")
	emitter := newFakeEmitter()
	presence := NewPresence(emitter)
	rooms := NewRoomRegistry(st, blobs, presence)
	return &testApp{
		store:    st,
		blobs:    blobs,
		emitter:  emitter,
		presence: presence,
		rooms:    rooms,
		binder:   NewSessionBinder(st, rooms, emitter),
		gate:     NewFileGate(st, blobs, presence, 50<<20),
	}
}
