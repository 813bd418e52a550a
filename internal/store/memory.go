package store

import (
	"context"
	"sync"

	"keyroom/internal/domain"
)

// Memory is a map-backed Store. One mutex guards everything, which makes
// every contract operation trivially atomic; fine for tests and for
// running a single node without Redis.
type Memory struct {
	mu       sync.Mutex
	rooms    map[string]*memRoom
	sessions map[string]memSession
}

type memRoom struct {
	room  domain.Room
	byUID map[string]domain.Member
	order []string // join order, keeps rosters stable
	files map[string]*memFile
}

type memFile struct {
	meta       domain.SharedFile
	downloaded map[string]struct{}
}

type memSession struct {
	key  string
	uid  string
	name string
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*memRoom),
		sessions: make(map[string]memSession),
	}
}

func (s *Memory) CreateRoom(_ context.Context, room domain.Room, creator domain.Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Key]; ok {
		return false, nil
	}
	room.Active = 1
	s.rooms[room.Key] = &memRoom{
		room:  room,
		byUID: map[string]domain.Member{creator.UID: creator},
		order: []string{creator.UID},
		files: make(map[string]*memFile),
	}
	return true, nil
}

func (s *Memory) GetRoom(_ context.Context, key string) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return r.room, nil
}

func (s *Memory) RoomExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[key]
	return ok, nil
}

func (s *Memory) JoinRoom(_ context.Context, key string, m domain.Member) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return 0, 0, domain.ErrRoomNotFound
	}
	if r.room.Active >= r.room.MaxMembers {
		return r.room.Active, r.room.MaxMembers, domain.ErrRoomFull
	}
	r.room.Active++
	r.byUID[m.UID] = m
	r.order = append(r.order, m.UID)
	return r.room.Active, r.room.MaxMembers, nil
}

func (s *Memory) RemoveMember(_ context.Context, key, uid string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return 0, nil, domain.ErrRoomNotFound
	}
	if _, present := r.byUID[uid]; present {
		delete(r.byUID, uid)
		for i, id := range r.order {
			if id == uid {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.room.Active--
	}
	if r.room.Active > 0 {
		return r.room.Active, nil, nil
	}
	fileIDs := make([]string, 0, len(r.files))
	for id := range r.files {
		fileIDs = append(fileIDs, id)
	}
	delete(s.rooms, key)
	return 0, fileIDs, nil
}

func (s *Memory) DeleteRoom(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	fileIDs := make([]string, 0, len(r.files))
	for id := range r.files {
		fileIDs = append(fileIDs, id)
	}
	delete(s.rooms, key)
	return fileIDs, nil
}

func (s *Memory) Members(_ context.Context, key string) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.Member, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, r.byUID[uid])
	}
	return out, nil
}

func (s *Memory) BindSession(_ context.Context, connID, key, uid, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[connID] = memSession{key: key, uid: uid, name: name}
	return nil
}

func (s *Memory) TakeSession(_ context.Context, connID string) (string, string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[connID]
	if !ok {
		return "", "", "", false, nil
	}
	delete(s.sessions, connID)
	return sess.key, sess.uid, sess.name, true, nil
}

func (s *Memory) PutFile(_ context.Context, key string, f domain.SharedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return domain.ErrRoomNotFound
	}
	r.files[f.ID] = &memFile{meta: f, downloaded: make(map[string]struct{})}
	return nil
}

func (s *Memory) GetFile(_ context.Context, key, fileID string) (domain.SharedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.file(key, fileID)
	if err != nil {
		return domain.SharedFile{}, err
	}
	return f.meta, nil
}

func (s *Memory) MarkDownloaded(_ context.Context, key, fileID, uid string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.file(key, fileID)
	if err != nil {
		return false, 0, err
	}
	_, seen := f.downloaded[uid]
	if !seen {
		f.downloaded[uid] = struct{}{}
		f.meta.Downloads = len(f.downloaded)
	}
	return !seen, len(f.downloaded), nil
}

func (s *Memory) DeleteFile(_ context.Context, key, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[key]; ok {
		delete(r.files, fileID)
	}
	return nil
}

func (s *Memory) UploadAccess(_ context.Context, key, uid string) (bool, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return false, 0, 0, nil
	}
	if _, member := r.byUID[uid]; !member {
		return false, 0, 0, nil
	}
	return true, r.room.Active, r.room.MaxMembers, nil
}

func (s *Memory) DownloadAccess(_ context.Context, key, uid, fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return false, nil
	}
	if _, member := r.byUID[uid]; !member {
		return false, nil
	}
	_, exists := r.files[fileID]
	return exists, nil
}

func (s *Memory) Close() error { return nil }

// file assumes s.mu is held.
func (s *Memory) file(key, fileID string) (*memFile, error) {
	r, ok := s.rooms[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	f, ok := r.files[fileID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return f, nil
}
