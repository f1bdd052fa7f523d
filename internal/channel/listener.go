package channel

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/wamctl/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Any local process can write to the socket, so drop warnings are limited to
// a short burst per second; the rest log at debug.
const (
	dropWarnEvery = time.Second
	dropWarnBurst = 5
)

// Handler consumes commands on the receive goroutine. It must not block for
// long; the host hands commands straight to the dispatch loop.
type Handler func(Command)

// ErrorHook observes dropped datagrams.
type ErrorHook func(error)

// Listener is the host end of the channel.
type Listener struct {
	path string
	conn *net.UnixConn
	buf  []byte
	warn *rate.Limiter

	closeOnce sync.Once
	closeErr  error
}

// Listen unlinks any stale socket at path and binds a datagram socket there.
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &SocketError{Op: "unlink", Path: path, Err: err}
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, &SocketError{Op: "bind", Path: path, Err: err}
	}
	log.Info().Str("path", path).Msg("channel.Listen bound")
	return &Listener{
		path: path,
		conn: conn,
		buf:  make([]byte, protocol.MaxDatagramSize),
		warn: rate.NewLimiter(rate.Every(dropWarnEvery), dropWarnBurst),
	}, nil
}

func (l *Listener) Path() string { return l.path }

// Receive blocks for one datagram and decodes it. A *ProtocolError means the
// datagram was dropped and the listener is still usable; a *SocketError means
// the socket failed.
func (l *Listener) Receive() (Command, error) {
	n, _, flags, _, err := l.conn.ReadMsgUnix(l.buf, nil)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Command{}, &SocketError{Op: "recv", Path: l.path, Err: ErrClosed}
		}
		return Command{}, &SocketError{Op: "recv", Path: l.path, Err: err}
	}
	if flags&unix.MSG_TRUNC != 0 {
		return Command{}, protocolErr("datagram exceeds receive buffer", protocol.ErrTruncated)
	}
	return Decode(l.buf[:n])
}

// Serve receives until ctx is cancelled or the socket fails. Protocol errors
// are logged, passed to onDrop when set, and skipped. Cancelling ctx closes
// the listener.
func (l *Listener) Serve(ctx context.Context, handle Handler, onDrop ErrorHook) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		cmd, err := l.Receive()
		if err == nil {
			log.Debug().Str("command", cmd.Kind().String()).Strs("args", cmd.Args()).Msg("channel.Listener.Serve received")
			handle(cmd)
			continue
		}
		var perr *ProtocolError
		if errors.As(err, &perr) {
			event := log.Debug()
			if l.warn.Allow() {
				event = log.Warn()
			}
			event.Err(err).Msg("channel.Listener.Serve dropped datagram")
			if onDrop != nil {
				onDrop(err)
			}
			continue
		}
		if ctx.Err() != nil {
			log.Info().Str("path", l.path).Msg("channel.Listener.Serve stopped")
			return ctx.Err()
		}
		log.Error().Err(err).Msg("channel.Listener.Serve socket failure")
		return err
	}
}

// Close closes the socket and unlinks its path. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("path", l.path).Msg("channel.Listener.Close unlink")
		}
	})
	return l.closeErr
}
