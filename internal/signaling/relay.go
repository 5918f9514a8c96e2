package signaling

import (
	"encoding/json"
	"errors"

	"github.com/meshrtc/signaling-relay/internal/metrics"
)

var errTargetUnreachable = errors.New("target connection not found or disconnected")

// sendTo queues a frame for one connection. A full or closed queue is treated
// as a dying peer: the socket is released and its close event performs the
// cleanup cascade. Delivery failures are absorbed, never propagated.
func (s *Server) sendTo(c *connection, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal outbound message", "type", msg.Type, "err", err)
		return
	}
	if !c.peer.queue(data) {
		s.metrics.Inc(metrics.SendQueueOverflow)
		s.log.Warn("send queue overflow, dropping connection", "connection_id", c.id)
		c.peer.close()
	}
}

// unicast delivers msg to the named target. It fails when the target does not
// exist or is no longer open; an accepted delivery is best-effort.
func (s *Server) unicast(targetConnID string, msg serverMessage) error {
	target, ok := s.registry.get(targetConnID)
	if !ok || target.peer.closed() {
		return errTargetUnreachable
	}
	s.sendTo(target, msg)
	return nil
}

// broadcastToRoom delivers msg to every current member of roomID except
// excludeConnID (no exclusion when empty). Unknown rooms and failed
// individual deliveries are silent; one slow member never aborts delivery to
// the rest.
func (s *Server) broadcastToRoom(roomID string, msg serverMessage, excludeConnID string) {
	for _, id := range s.rooms.memberIDs(roomID) {
		if id == excludeConnID {
			continue
		}
		if member, ok := s.registry.get(id); ok {
			s.sendTo(member, msg)
		}
	}
}

func (p *peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
