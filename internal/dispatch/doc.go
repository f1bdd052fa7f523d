// Package dispatch bridges commands received on the socket goroutine onto a
// single main-loop goroutine that owns all application lifecycle state.
//
// Ownership boundary:
// - Loop: the cooperative single-goroutine executor and its delayed tasks
// - Dispatcher: the startup record, the pending event slot, and the calls
//   into the application lifecycle facade
package dispatch
