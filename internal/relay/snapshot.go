package relay

type ConnectionSnapshot struct {
	ConnectionInfo
	Rooms []string `json:"rooms"`
}

type Snapshot struct {
	TotalConnections int                  `json:"totalConnections"`
	TotalRooms       int                  `json:"totalRooms"`
	Connections      []ConnectionSnapshot `json:"connections"`
	Rooms            []RoomInfo           `json:"rooms"`
}

// Snapshot reports live connections and rooms. A non-empty tenantId limits
// the result to that tenant's identities; rooms without any of them are
// omitted.
func (r *Relay) Snapshot(tenantId string) Snapshot {
	conns := r.registry.List()
	rooms := r.rooms.Snapshot()

	snap := Snapshot{
		Connections: make([]ConnectionSnapshot, 0, len(conns)),
		Rooms:       make([]RoomInfo, 0, len(rooms)),
	}

	visible := make(map[string]struct{}, len(conns))
	for _, info := range conns {
		if tenantId != "" && info.TenantId != tenantId {
			continue
		}
		visible[info.UserId] = struct{}{}
		snap.Connections = append(snap.Connections, ConnectionSnapshot{
			ConnectionInfo: info,
			Rooms:          r.rooms.RoomsOf(info.UserId),
		})
	}

	for _, room := range rooms {
		if tenantId != "" {
			users := make([]string, 0, len(room.Users))
			for _, u := range room.Users {
				if _, ok := visible[u]; ok {
					users = append(users, u)
				}
			}
			if len(users) == 0 {
				continue
			}
			room.Users = users
			room.UserCount = len(users)
		}
		snap.Rooms = append(snap.Rooms, room)
	}

	snap.TotalConnections = len(snap.Connections)
	snap.TotalRooms = len(snap.Rooms)
	return snap
}
