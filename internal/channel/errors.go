package channel

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDatagram    = errors.New("channel: empty datagram")
	ErrUnknownCommand   = errors.New("channel: unknown command")
	ErrMissingArgument  = errors.New("channel: missing argument")
	ErrBadInteger       = errors.New("channel: bad integer argument")
	ErrDatagramTooLarge = errors.New("channel: datagram too large")
	ErrUnencodable      = errors.New("channel: command not representable")
	ErrClosed           = errors.New("channel: closed")
)

// SocketError reports a failure creating, binding, connecting or using the
// socket.
type SocketError struct {
	Op   string
	Path string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("channel: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// ProtocolError reports a datagram that could not be turned into a command.
// The datagram is dropped; the channel stays usable.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "channel: protocol: " + e.Reason
	}
	return fmt.Sprintf("channel: protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(reason string, err error) error {
	return &ProtocolError{Reason: reason, Err: err}
}
