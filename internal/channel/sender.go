package channel

import (
	"net"
	"sync/atomic"

	"github.com/danmuck/wamctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Sender is the client end of the channel. Sends are fire-and-forget.
type Sender struct {
	path   string
	conn   *net.UnixConn
	nextID atomic.Uint64
	legacy bool
}

// SenderOption tunes a Sender.
type SenderOption func(*Sender)

// WithLegacyText makes the sender emit the space separated text format.
func WithLegacyText() SenderOption {
	return func(s *Sender) { s.legacy = true }
}

// Dial connects to the host socket at path.
func Dial(path string, opts ...SenderOption) (*Sender, error) {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, &SocketError{Op: "connect", Path: path, Err: err}
	}
	s := &Sender{path: path, conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send writes cmd as one datagram.
func (s *Sender) Send(cmd Command) error {
	var (
		buf []byte
		err error
	)
	if s.legacy {
		buf, err = EncodeLegacy(cmd)
	} else {
		buf, err = EncodeFramed(cmd, s.nextID.Add(1))
	}
	if err != nil {
		return err
	}
	if len(buf) > protocol.MaxDatagramSize {
		return ErrDatagramTooLarge
	}
	if _, err := s.conn.Write(buf); err != nil {
		return &SocketError{Op: "send", Path: s.path, Err: err}
	}
	log.Debug().
		Str("command", cmd.Kind().String()).
		Strs("args", cmd.Args()).
		Int("bytes", len(buf)).
		Msg("channel.Sender.Send")
	return nil
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
