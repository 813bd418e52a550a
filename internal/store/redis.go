package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"keyroom/internal/domain"
)

// Redis implements Store on a Redis instance. The conditional counters
// run as Lua scripts so the capacity check and the membership write
// commit as one unit; multi-key writes that need no condition go through
// MULTI/EXEC pipelines.
//
// Key layout:
//
//	chat:<key>                     room hash (maxMembers, activeMembers, admin, created)
//	chat:<key>:users               member uid set
//	chat:<key>:user:<uid>          member hash
//	chat:<key>:files               file id set
//	chat:<key>:file:<id>           file hash
//	chat:<key>:file:<id>:downloaded  downloaded-by uid set
//	socket:<connID>                session hash (key, uid)
type Redis struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	log.Info().Str("module", "store.redis").Str("addr", opts.Addr).Msg("redis connected")
	return &Redis{client: client}, nil
}

func (s *Redis) Close() error { return s.client.Close() }

func roomKey(key string) string         { return "chat:" + key }
func usersKey(key string) string        { return "chat:" + key + ":users" }
func userKey(key, uid string) string    { return "chat:" + key + ":user:" + uid }
func filesKey(key string) string        { return "chat:" + key + ":files" }
func fileKey(key, id string) string     { return "chat:" + key + ":file:" + id }
func fileDownKey(key, id string) string { return fileKey(key, id) + ":downloaded" }
func sessionKey(connID string) string   { return "socket:" + connID }

// createScript reserves the room key iff absent and seeds it with the
// creator in the same step.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'maxMembers', ARGV[1], 'activeMembers', 1, 'admin', ARGV[2], 'created', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[3], 'uid', ARGV[2], 'name', ARGV[4], 'avatar', ARGV[5], 'publicKey', ARGV[6], 'joined', ARGV[3])
return 1
`)

// joinScript is the commit point for joins: the increment fails if the
// room is full at execution time, so two racers cannot both take the
// last slot.
var joinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0, 0} end
local max = tonumber(redis.call('HGET', KEYS[1], 'maxMembers'))
local active = tonumber(redis.call('HGET', KEYS[1], 'activeMembers'))
if active >= max then return {-2, active, max} end
active = redis.call('HINCRBY', KEYS[1], 'activeMembers', 1)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], 'uid', ARGV[1], 'name', ARGV[2], 'avatar', ARGV[3], 'publicKey', ARGV[4], 'joined', ARGV[5])
return {1, active, max}
`)

// removeScript decrements and, when the room empties, erases it together
// with its file records so no zero-member room is ever observable.
// Returns {remaining, fileID...}, or {-1} for a room already gone.
var removeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
local removed = redis.call('SREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
local active = tonumber(redis.call('HGET', KEYS[1], 'activeMembers'))
if removed == 1 then
  active = redis.call('HINCRBY', KEYS[1], 'activeMembers', -1)
end
if active > 0 then return {active} end
local files = redis.call('SMEMBERS', KEYS[4])
local users = redis.call('SMEMBERS', KEYS[2])
for _, uid in ipairs(users) do
  redis.call('DEL', ARGV[2] .. ':user:' .. uid)
end
for _, id in ipairs(files) do
  redis.call('DEL', ARGV[2] .. ':file:' .. id, ARGV[2] .. ':file:' .. id .. ':downloaded')
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[4])
local out = {0}
for _, id in ipairs(files) do table.insert(out, id) end
return out
`)

// destroyScript is the admin variant: unconditional cascade erase.
var destroyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1} end
local files = redis.call('SMEMBERS', KEYS[3])
local users = redis.call('SMEMBERS', KEYS[2])
for _, uid in ipairs(users) do
  redis.call('DEL', ARGV[1] .. ':user:' .. uid)
end
for _, id in ipairs(files) do
  redis.call('DEL', ARGV[1] .. ':file:' .. id, ARGV[1] .. ':file:' .. id .. ':downloaded')
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
local out = {0}
for _, id in ipairs(files) do table.insert(out, id) end
return out
`)

// markScript is an idempotent per-member download mark: SADD decides,
// the stored count mirrors the set cardinality.
var markScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {-1, 0} end
local added = redis.call('SADD', KEYS[2], ARGV[1])
local count = redis.call('SCARD', KEYS[2])
redis.call('HSET', KEYS[1], 'downloadCount', count)
return {added, count}
`)

// uploadAccessScript answers existence and count in one step so a
// concurrent leave cannot slip between the checks.
var uploadAccessScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then return {0, 0, 0} end
return {1,
  tonumber(redis.call('HGET', KEYS[1], 'activeMembers')),
  tonumber(redis.call('HGET', KEYS[1], 'maxMembers'))}
`)

// takeSessionScript reads and deletes the binding atomically; the DEL is
// what makes a duplicate release a no-op.
var takeSessionScript = redis.NewScript(`
local d = redis.call('HMGET', KEYS[1], 'key', 'uid', 'name')
if not d[1] then return {} end
redis.call('DEL', KEYS[1])
return d
`)

func (s *Redis) CreateRoom(ctx context.Context, room domain.Room, creator domain.Member) (bool, error) {
	res, err := createScript.Run(ctx, s.client,
		[]string{roomKey(room.Key), usersKey(room.Key), userKey(room.Key, creator.UID)},
		room.MaxMembers, creator.UID, room.CreatedAt.UnixMilli(),
		creator.Name, creator.Avatar, creator.PublicKey,
	).Int()
	if err != nil {
		return false, storeErr(err)
	}
	return res == 1, nil
}

func (s *Redis) GetRoom(ctx context.Context, key string) (domain.Room, error) {
	fields, err := s.client.HGetAll(ctx, roomKey(key)).Result()
	if err != nil {
		return domain.Room{}, storeErr(err)
	}
	if len(fields) == 0 {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return parseRoom(key, fields), nil
}

func (s *Redis) RoomExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(key)).Result()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

func (s *Redis) JoinRoom(ctx context.Context, key string, m domain.Member) (int, int, error) {
	res, err := joinScript.Run(ctx, s.client,
		[]string{roomKey(key), usersKey(key), userKey(key, m.UID)},
		m.UID, m.Name, m.Avatar, m.PublicKey, m.JoinedAt.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, 0, storeErr(err)
	}
	switch res[0] {
	case -1:
		return 0, 0, domain.ErrRoomNotFound
	case -2:
		return int(res[1]), int(res[2]), domain.ErrRoomFull
	}
	return int(res[1]), int(res[2]), nil
}

func (s *Redis) RemoveMember(ctx context.Context, key, uid string) (int, []string, error) {
	res, err := removeScript.Run(ctx, s.client,
		[]string{roomKey(key), usersKey(key), userKey(key, uid), filesKey(key)},
		uid, roomKey(key),
	).Slice()
	if err != nil {
		return 0, nil, storeErr(err)
	}
	remaining := int(res[0].(int64))
	if remaining == -1 {
		return 0, nil, domain.ErrRoomNotFound
	}
	if remaining > 0 {
		return remaining, nil, nil
	}
	fileIDs := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		fileIDs = append(fileIDs, v.(string))
	}
	return 0, fileIDs, nil
}

func (s *Redis) DeleteRoom(ctx context.Context, key string) ([]string, error) {
	res, err := destroyScript.Run(ctx, s.client,
		[]string{roomKey(key), usersKey(key), filesKey(key)},
		roomKey(key),
	).Slice()
	if err != nil {
		return nil, storeErr(err)
	}
	if res[0].(int64) == -1 {
		return nil, domain.ErrRoomNotFound
	}
	fileIDs := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		fileIDs = append(fileIDs, v.(string))
	}
	return fileIDs, nil
}

func (s *Redis) Members(ctx context.Context, key string) ([]domain.Member, error) {
	uids, err := s.client.SMembers(ctx, usersKey(key)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	cmds := make([]*redis.StringStringMapCmd, len(uids))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, uid := range uids {
			cmds[i] = pipe.HGetAll(ctx, userKey(key, uid))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]domain.Member, 0, len(uids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, parseMember(fields))
	}
	return out, nil
}

func (s *Redis) BindSession(ctx context.Context, connID, key, uid, name string) error {
	err := s.client.HSet(ctx, sessionKey(connID), "key", key, "uid", uid, "name", name).Err()
	return storeErr(err)
}

func (s *Redis) TakeSession(ctx context.Context, connID string) (string, string, string, bool, error) {
	res, err := takeSessionScript.Run(ctx, s.client, []string{sessionKey(connID)}).StringSlice()
	if err != nil {
		return "", "", "", false, storeErr(err)
	}
	if len(res) < 3 {
		return "", "", "", false, nil
	}
	return res[0], res[1], res[2], true, nil
}

func (s *Redis) PutFile(ctx context.Context, key string, f domain.SharedFile) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, fileKey(key, f.ID),
			"id", f.ID,
			"owner", f.OwnerUID,
			"originalName", f.Name,
			"type", f.Type,
			"size", f.Size,
			"maxDownload", f.MaxDownloads,
			"downloadCount", 0,
			"uploadedAt", f.UploadedAt.UnixMilli(),
		)
		pipe.SAdd(ctx, filesKey(key), f.ID)
		return nil
	})
	return storeErr(err)
}

func (s *Redis) GetFile(ctx context.Context, key, fileID string) (domain.SharedFile, error) {
	fields, err := s.client.HGetAll(ctx, fileKey(key, fileID)).Result()
	if err != nil {
		return domain.SharedFile{}, storeErr(err)
	}
	if len(fields) == 0 {
		return domain.SharedFile{}, domain.ErrFileNotFound
	}
	return parseFile(fields), nil
}

func (s *Redis) MarkDownloaded(ctx context.Context, key, fileID, uid string) (bool, int, error) {
	res, err := markScript.Run(ctx, s.client,
		[]string{fileKey(key, fileID), fileDownKey(key, fileID)},
		uid,
	).Int64Slice()
	if err != nil {
		return false, 0, storeErr(err)
	}
	if res[0] == -1 {
		return false, 0, domain.ErrFileNotFound
	}
	return res[0] == 1, int(res[1]), nil
}

func (s *Redis) DeleteFile(ctx context.Context, key, fileID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, fileKey(key, fileID), fileDownKey(key, fileID))
		pipe.SRem(ctx, filesKey(key), fileID)
		return nil
	})
	return storeErr(err)
}

func (s *Redis) UploadAccess(ctx context.Context, key, uid string) (bool, int, int, error) {
	res, err := uploadAccessScript.Run(ctx, s.client,
		[]string{roomKey(key), userKey(key, uid)},
	).Int64Slice()
	if err != nil {
		return false, 0, 0, storeErr(err)
	}
	return res[0] == 1, int(res[1]), int(res[2]), nil
}

func (s *Redis) DownloadAccess(ctx context.Context, key, uid, fileID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(key), userKey(key, uid), fileKey(key, fileID)).Result()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 3, nil
}

func storeErr(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func parseRoom(key string, fields map[string]string) domain.Room {
	max, _ := strconv.Atoi(fields["maxMembers"])
	active, _ := strconv.Atoi(fields["activeMembers"])
	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	return domain.Room{
		Key:        key,
		MaxMembers: max,
		Active:     active,
		AdminUID:   fields["admin"],
		CreatedAt:  time.UnixMilli(created),
	}
}

func parseMember(fields map[string]string) domain.Member {
	joined, _ := strconv.ParseInt(fields["joined"], 10, 64)
	return domain.Member{
		UID:       fields["uid"],
		Name:      fields["name"],
		Avatar:    fields["avatar"],
		PublicKey: fields["publicKey"],
		JoinedAt:  time.UnixMilli(joined),
	}
}

func parseFile(fields map[string]string) domain.SharedFile {
	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	maxDown, _ := strconv.Atoi(fields["maxDownload"])
	count, _ := strconv.Atoi(fields["downloadCount"])
	uploaded, _ := strconv.ParseInt(fields["uploadedAt"], 10, 64)
	return domain.SharedFile{
		ID:           fields["id"],
		OwnerUID:     fields["owner"],
		Name:         fields["originalName"],
		Type:         fields["type"],
		Size:         size,
		MaxDownloads: maxDown,
		Downloads:    count,
		UploadedAt:   time.UnixMilli(uploaded),
	}
}
