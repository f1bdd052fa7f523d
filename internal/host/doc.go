// Package host is the composition root of the host role: it holds the host
// lock, binds the command socket, and runs the receive and dispatch loops.
//
// Ownership boundary:
// - host lock lifetime
// - socket listener lifetime
// - receive goroutine -> dispatch loop handoff
// - heartbeat and optional admin endpoint
package host
