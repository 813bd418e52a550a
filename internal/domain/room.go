// Package domain holds the entities the coordinator moves around:
// rooms, members, shared files. No transport or storage logic here.
package domain

import (
	"regexp"
	"time"
)

const (
	MinRoomSize = 2
	MaxRoomSize = 10

	MaxNameLen   = 36
	MaxAvatarLen = 36
)

// keyFormat is the wire-visible contract for room codes: two, three and
// two alphanumerics joined by hyphens (e.g. "aB-3xY-9q").
var keyFormat = regexp.MustCompile(`^[A-Za-z0-9]{2}-[A-Za-z0-9]{3}-[A-Za-z0-9]{2}$`)

// ValidKey reports whether key matches the short-code format.
func ValidKey(key string) bool {
	return keyFormat.MatchString(key)
}

// ValidCapacity reports whether n is an allowed room size.
func ValidCapacity(n int) bool {
	return n >= MinRoomSize && n <= MaxRoomSize
}

// Room is the persistent record of one active chat room.
type Room struct {
	Key        string    `json:"key"`
	MaxMembers int       `json:"maxMembers"`
	Active     int       `json:"activeMembers"`
	AdminUID   string    `json:"admin"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Member is one participant of a room. PublicKey is an opaque payload
// relayed to other members for end-to-end encryption; the coordinator
// never inspects it.
type Member struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	PublicKey string    `json:"publicKey,omitempty"`
	JoinedAt  time.Time `json:"joined"`
}

// PublicView strips key material before a roster goes to onlookers.
func (m Member) PublicView() Member {
	m.PublicKey = ""
	return m
}

// MemberInput is what a client supplies on create/join; the coordinator
// assigns the uid and timestamp.
type MemberInput struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	PublicKey string `json:"publicKey"`
}

func (in MemberInput) Validate() error {
	if in.Name == "" || len(in.Name) > MaxNameLen {
		return ErrInvalidName
	}
	if in.Avatar == "" || len(in.Avatar) > MaxAvatarLen {
		return ErrInvalidAvatar
	}
	return nil
}
