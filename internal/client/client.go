package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/danmuck/wamctl/internal/paths"
	"github.com/danmuck/wamctl/internal/surface"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrNoHost = errors.New("client: no host running")

// Client talks to the host of one runtime directory.
type Client struct {
	runtime paths.Runtime
	lock    *hostlock.Lock
	clock   clockwork.Clock
	backoff BackoffConfig
	rng     *rand.Rand
	dialOpt []channel.SenderOption
}

type Option func(*Client)

func WithClock(clk clockwork.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func WithBackoff(cfg BackoffConfig) Option {
	return func(c *Client) { c.backoff = cfg }
}

// WithLegacyText sends the space separated text format instead of framed
// datagrams, for hosts that only speak text.
func WithLegacyText() Option {
	return func(c *Client) { c.dialOpt = append(c.dialOpt, channel.WithLegacyText()) }
}

func New(runtime paths.Runtime, opts ...Option) *Client {
	c := &Client{
		runtime: runtime,
		lock:    hostlock.New(runtime.LockPath()),
		clock:   clockwork.NewRealClock(),
		backoff: DefaultBackoff(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Runtime() paths.Runtime { return c.runtime }

// IsHostRunning probes the host lock without holding it.
func (c *Client) IsHostRunning() bool {
	return c.lock.IsHostRunning()
}

// WaitForHost polls until a host holds the lock or ctx ends.
func (c *Client) WaitForHost(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if c.IsHostRunning() {
			if attempt > 1 {
				log.Info().Int("attempts", attempt).Msg("client.Client.WaitForHost host up")
			}
			return nil
		}
		delay := NextBackoffDelay(c.backoff, attempt, c.rng)
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("client.Client.WaitForHost waiting")
		select {
		case <-ctx.Done():
			return errors.Join(ErrNoHost, ctx.Err())
		case <-c.clock.After(delay):
		}
	}
}

// Send delivers cmds in order over one connection.
func (c *Client) Send(cmds ...channel.Command) error {
	s, err := channel.Dial(c.runtime.SocketPath(), c.dialOpt...)
	if err != nil {
		return err
	}
	defer s.Close()
	for _, cmd := range cmds {
		if err := s.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Launch asks the host to start an app. When surfaces are attached the app
// id follows as a ready-event so the host can signal the shell once the
// surfaces exist.
func (c *Client) Launch(args channel.StartAppArgs, surfaces []surface.Descriptor) error {
	start, err := channel.NewStartApp(args, surfaces)
	if err != nil {
		return err
	}
	cmds := []channel.Command{start}
	if len(surfaces) > 0 {
		cmds = append(cmds, channel.NewReady(args.AppID))
	}
	if err := c.Send(cmds...); err != nil {
		return err
	}
	log.Info().
		Str("app_id", args.AppID).
		Str("uri", args.AppURI).
		Int("pid", args.PID).
		Int("surfaces", len(surfaces)).
		Msg("client.Client.Launch")
	return nil
}

func (c *Client) Activate(appID string) error {
	return c.Send(channel.NewActivate(appID))
}

func (c *Client) Deactivate(appID string) error {
	return c.Send(channel.NewDeactivate(appID))
}

// Killed reports that the app's process has exited.
func (c *Client) Killed(appID string) error {
	return c.Send(channel.NewKilled(appID))
}

func (c *Client) Ready(appID string) error {
	return c.Send(channel.NewReady(appID))
}
