package signaling

import "errors"

var (
	errUnknownConnection  = errors.New("unknown connection")
	errIdentityAlreadySet = errors.New("user id already set")
)

// connection is the registry record for one live socket.
//
// userID stays empty until the client identifies; roomID stays empty while
// the connection is not in a room. Whenever roomID is set, the room directory
// must list this connection as a member of that room (and vice versa).
type connection struct {
	id     string
	userID string
	roomID string

	// peer owns the socket write side. It is released exactly once, by the
	// cleanup cascade that removes this record.
	peer *peer
}

// registry tracks every live connection by id.
//
// The registry is not safe for concurrent use on its own; the server's state
// lock serializes every access, matching the single-writer discipline of the
// router.
type registry struct {
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

func (r *registry) register(id string, p *peer) *connection {
	c := &connection{id: id, peer: p}
	r.conns[id] = c
	return c
}

// setUserID binds the client-supplied identity. Identity is immutable once
// bound; a second attempt fails with errIdentityAlreadySet.
func (r *registry) setUserID(id, userID string) error {
	c, ok := r.conns[id]
	if !ok {
		return errUnknownConnection
	}
	if c.userID != "" {
		return errIdentityAlreadySet
	}
	c.userID = userID
	return nil
}

func (r *registry) get(id string) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// remove deletes the record. The caller must have already detached the
// connection from its room. Removing an absent id is a no-op.
func (r *registry) remove(id string) {
	delete(r.conns, id)
}

func (r *registry) count() int {
	return len(r.conns)
}
