package relay

import (
	"sort"
	"sync"
)

type RoomInfo struct {
	RoomId    string   `json:"roomId"`
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// Departure is one room an identity left and who is still in it.
type Departure struct {
	RoomId    string
	Remaining []string
}

// Rooms tracks membership in both directions. A room exists only while it
// has at least one member.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
	joined  map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds userId to roomId, creating the room if needed, and returns the
// members after the join.
func (r *Rooms) Join(userId, roomId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[roomId]
	if !ok {
		m = make(map[string]struct{})
		r.members[roomId] = m
	}
	m[userId] = struct{}{}

	j, ok := r.joined[userId]
	if !ok {
		j = make(map[string]struct{})
		r.joined[userId] = j
	}
	j[roomId] = struct{}{}

	return sortedKeys(m)
}

// Leave removes userId from roomId. left is false when userId was not a
// member, in which case nothing changes.
func (r *Rooms) Leave(userId, roomId string) (remaining []string, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(userId, roomId)
}

func (r *Rooms) leaveLocked(userId, roomId string) ([]string, bool) {
	m, ok := r.members[roomId]
	if !ok {
		return nil, false
	}
	if _, ok := m[userId]; !ok {
		return nil, false
	}

	delete(m, userId)
	if len(m) == 0 {
		delete(r.members, roomId)
	}

	if j, ok := r.joined[userId]; ok {
		delete(j, roomId)
		if len(j) == 0 {
			delete(r.joined, userId)
		}
	}

	return sortedKeys(m), true
}

// LeaveAll removes userId from every room it joined.
func (r *Rooms) LeaveAll(userId string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var departures []Departure
	for _, roomId := range sortedKeys(r.joined[userId]) {
		if remaining, ok := r.leaveLocked(userId, roomId); ok {
			departures = append(departures, Departure{RoomId: roomId, Remaining: remaining})
		}
	}

	return departures
}

func (r *Rooms) MembersOf(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.members[roomId])
}

func (r *Rooms) RoomsOf(userId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.joined[userId])
}

func (r *Rooms) Exists(roomId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[roomId]
	return ok
}

func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

func (r *Rooms) Snapshot() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(r.members))
	for id, m := range r.members {
		infos = append(infos, RoomInfo{
			RoomId:    id,
			UserCount: len(m),
			Users:     sortedKeys(m),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].RoomId < infos[j].RoomId
	})
	return infos
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
