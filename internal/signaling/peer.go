package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

// peer owns the write side of one WebSocket. All outbound frames are queued
// on a buffered channel drained by writePump, so the router never blocks on a
// slow or unresponsive remote; a full queue marks the peer for disconnect
// instead.
type peer struct {
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, queueSize int) *peer {
	return &peer{
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// queue enqueues a frame for delivery. It reports false when the peer is
// closed or its queue is full; the caller decides whether that is fatal.
func (p *peer) queue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// close releases the peer exactly once. The write pump observes done, sends a
// close frame, and tears down the socket, which in turn unblocks the read
// loop and triggers the cleanup cascade.
func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// writePump drains the send queue and emits keepalive pings. It owns every
// write to the socket; frames to a single recipient go out in the order they
// were queued.
func (p *peer) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
