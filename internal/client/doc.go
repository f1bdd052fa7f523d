// Package client is the non-host side of the manager: it decides the process
// role, waits for a host when asked to, and sends lifecycle commands.
//
// Sends are fire-and-forget. A nil error means the datagram reached the host
// socket, not that the host acted on it.
package client
