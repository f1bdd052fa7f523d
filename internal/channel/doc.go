// Package channel carries lifecycle commands from client processes to the
// host over a unix datagram socket.
//
// Ownership boundary:
// - command values and their typed argument views
// - framed and legacy text wire encodings
// - host-side listener and client-side sender
//
// Delivery is fire-and-forget. One datagram holds exactly one command.
package channel
