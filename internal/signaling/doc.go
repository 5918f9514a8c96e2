// Package signaling implements the relay's WebSocket core: the connection
// registry, the room directory, and the message router that brokers
// session-description/ICE exchange and room-scoped chat between browser
// peers.
//
// The relay never inspects offer/answer/candidate payloads; it routes
// envelopes. Media flows peer-to-peer once the handshake completes.
package signaling
