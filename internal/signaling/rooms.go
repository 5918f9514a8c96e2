package signaling

import "errors"

var errAlreadyInRoom = errors.New("already in a room")

// roomDirectory tracks room membership as roomId -> set of connection ids.
//
// Rooms are created lazily by the first join and deleted the moment the last
// member leaves; an empty room is never observable between handler calls.
// Like the registry, the directory relies on the server's state lock for
// serialization.
type roomDirectory struct {
	rooms map[string]map[string]struct{}
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{rooms: make(map[string]map[string]struct{})}
}

// join adds the connection to roomID, creating the room if needed, and
// returns the members that were present before the join (excluding the
// joiner). A connection that is already in a room must leave first.
//
// created reports whether the room was created by this join.
func (d *roomDirectory) join(reg *registry, roomID, connID string) (prior []RoomUser, created bool, err error) {
	c, ok := reg.get(connID)
	if !ok {
		return nil, false, errUnknownConnection
	}
	if c.roomID != "" {
		return nil, false, errAlreadyInRoom
	}

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
		created = true
	}

	prior = make([]RoomUser, 0, len(members))
	for id := range members {
		if m, ok := reg.get(id); ok {
			prior = append(prior, RoomUser{UserID: m.userID, ConnectionID: m.id})
		}
	}

	members[connID] = struct{}{}
	c.roomID = roomID
	return prior, created, nil
}

// leave detaches the connection from its room, if any, and deletes the room
// when it becomes empty. It returns the vacated room id so the caller can
// broadcast a departure notice, and deleted reports whether the room was
// removed. Leaving while not in a room is a no-op.
func (d *roomDirectory) leave(reg *registry, connID string) (roomID string, deleted bool, ok bool) {
	c, found := reg.get(connID)
	if !found || c.roomID == "" {
		return "", false, false
	}

	roomID = c.roomID
	c.roomID = ""

	members, found := d.rooms[roomID]
	if !found {
		return roomID, false, true
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
		deleted = true
	}
	return roomID, deleted, true
}

// snapshot returns the current members of roomID, or nil if the room does not
// exist.
func (d *roomDirectory) snapshot(reg *registry, roomID string) []RoomUser {
	members, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]RoomUser, 0, len(members))
	for id := range members {
		if c, ok := reg.get(id); ok {
			out = append(out, RoomUser{UserID: c.userID, ConnectionID: c.id})
		}
	}
	return out
}

// memberIDs returns the connection ids of the room's current members.
func (d *roomDirectory) memberIDs(roomID string) []string {
	members, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (d *roomDirectory) count() int {
	return len(d.rooms)
}
