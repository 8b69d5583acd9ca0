package model

import "fmt"

type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeGroup   RoomType = "group"
)

// RoomState is the lifecycle state of a room. Values are ordered: a room
// only moves to a greater value, except for recovery re-entries.
type RoomState int

const (
	StateInitialized RoomState = 5
	StateJoining     RoomState = 10
	StateJoined      RoomState = 20
	StateReady       RoomState = 150
	StateEnded       RoomState = 190
	StateLeaving     RoomState = 200
	StateLeft        RoomState = 250
)

var stateNames = map[RoomState]string{
	StateInitialized: "INITIALIZED",
	StateJoining:     "JOINING",
	StateJoined:      "JOINED",
	StateReady:       "READY",
	StateEnded:       "ENDED",
	StateLeaving:     "LEAVING",
	StateLeft:        "LEFT",
}

func (s RoomState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Valid reports whether s is one of the declared states.
func (s RoomState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Permission is a member's access level inside a room.
type Permission int

const (
	PermReadOnly Permission = 0
	PermStandard Permission = 2
	PermOperator Permission = 3
)

// Flags is the room flag bitmask synced with the server.
type Flags uint8

const FlagArchived Flags = 0x01

// Contact is what the directory knows about a user.
type Contact struct {
	Handle    string `json:"u"`
	Email     string `json:"m"`
	Name      string `json:"name"`
	IsContact bool   `json:"c"`
}

// MemberRecord is one entry of the persisted member list.
type MemberRecord struct {
	User       string     `json:"u"`
	Permission Permission `json:"p"`
}

// RoomRecord is the persisted form of a room, keyed by chat id.
type RoomRecord struct {
	ID      string         `json:"id"`
	Shard   int            `json:"cs"`
	Group   int            `json:"g"`
	Users   []MemberRecord `json:"u"`
	Created int64          `json:"ts"`
	Flags   Flags          `json:"f"`
}

// RoomsCollection is the store collection holding RoomRecord values.
const RoomsCollection = "mcf"

// ListenerID identifies a registered callback so it can be removed later.
type ListenerID uint64
