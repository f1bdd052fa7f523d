// Package protocol owns the framed datagram contract spoken on the manager
// socket.
//
// Ownership boundary:
// - fixed header primitives and datagram marshal/unmarshal
// - tlv payload primitives (package tlv)
// - per-command field requirements (package schema)
package protocol
