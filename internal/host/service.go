package host

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/wamctl/internal/auth"
	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/dispatch"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/danmuck/wamctl/internal/observability"
	"github.com/danmuck/wamctl/internal/paths"
	"github.com/danmuck/wamctl/internal/protocol"
	"github.com/danmuck/wamctl/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrInvalidHeartbeatInterval = errors.New("host: invalid heartbeat interval")

// Config configures the host runtime.
type Config struct {
	RuntimeDir        string
	Dispatch          dispatch.Config
	HeartbeatInterval time.Duration
	AdminAddr         string
	AdminToken        string
	AdminCORSOrigins  []string
}

func DefaultConfig() Config {
	return Config{
		RuntimeDir:        paths.DefaultRuntimeDir,
		Dispatch:          dispatch.DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
		AdminAddr:         "",
		AdminToken:        "",
	}
}

// Status is a point-in-time view of the host.
type Status struct {
	SocketPath string `json:"socket_path"`
	Apps       int    `json:"apps"`
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Queued     int    `json:"queued"`
}

// Service runs the host. Construct with NewService; Run blocks until signal
// shutdown.
type Service struct {
	cfg     Config
	runtime paths.Runtime
	clock   clockwork.Clock

	lock       *hostlock.Lock
	listener   *channel.Listener
	loop       *dispatch.Loop
	registry   *registry.Registry
	facade     dispatch.Facade
	dispatcher *dispatch.Dispatcher
	admin      *observability.AdminServer

	received atomic.Uint64
	dropped  atomic.Uint64

	readyOnce sync.Once
	ready     chan struct{}
}

type Option func(*Service)

func WithClock(clk clockwork.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithLock hands over a lock the caller already acquired, as client.Decide
// does.
func WithLock(l *hostlock.Lock) Option {
	return func(s *Service) { s.lock = l }
}

// WithFacade replaces the in-memory registry as the lifecycle facade.
func WithFacade(f dispatch.Facade) Option {
	return func(s *Service) { s.facade = f }
}

func NewService(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		runtime: paths.Resolve(cfg.RuntimeDir),
		clock:   clockwork.NewRealClock(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = registry.New(s.clock)
	if s.facade == nil {
		s.facade = s.registry
	}
	s.loop = dispatch.NewLoop(s.clock)
	s.dispatcher = dispatch.New(s.loop, s.facade, cfg.Dispatch, dispatch.WithObserver(observability.DispatchObserver{}))
	return s
}

func (s *Service) Runtime() paths.Runtime { return s.runtime }

func (s *Service) Registry() *registry.Registry { return s.registry }

// Ready is closed once the socket is bound and the loops are running.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// AdminAddr returns the bound admin address once Ready, or "".
func (s *Service) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

func (s *Service) Status() Status {
	return Status{
		SocketPath: s.runtime.SocketPath(),
		Apps:       s.registry.Len(),
		Received:   s.received.Load(),
		Dropped:    s.dropped.Load(),
		Queued:     s.loop.Len(),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext becomes host, serves until ctx is done, then releases the
// socket and the lock.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		s.teardown()
		return err
	}
	defer s.teardown()
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if s.lock == nil {
		s.lock = hostlock.New(s.runtime.LockPath())
	}
	if err := s.lock.Acquire(); err != nil {
		return err
	}

	ln, err := channel.Listen(s.runtime.SocketPath())
	if err != nil {
		return err
	}
	s.listener = ln

	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		apps := observability.AppLister(s.registry)
		if lister, ok := s.facade.(observability.AppLister); ok {
			apps = lister
		}
		status := func() gin.H {
			st := s.Status()
			return gin.H{"host": true, "socket": st.SocketPath, "received": st.Received, "dropped": st.Dropped}
		}
		router := observability.NewAdminRouter(apps, status,
			observability.WithTokenValidator(auth.FromConfig(s.cfg.AdminToken)),
			observability.WithCORSOrigins(s.cfg.AdminCORSOrigins),
		)
		admin, err := observability.ListenAdmin(addr, router)
		if err != nil {
			return err
		}
		s.admin = admin
	}

	log.Info().
		Str("runtime_dir", s.runtime.Dir).
		Str("socket", s.runtime.SocketPath()).
		Str("admin", s.AdminAddr()).
		Msg("host.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("task", name).Msg("host.Service.serve task failed")
				errs <- err
			}
		}()
	}
	run("loop", s.loop.Run)
	run("receive", func(ctx context.Context) error {
		return s.listener.Serve(ctx, s.handle, s.drop)
	})
	if s.admin != nil {
		run("admin", s.admin.Serve)
	}
	s.readyOnce.Do(func() { close(s.ready) })

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("host.Service.serve shutdown")
			break loop
		case err := <-errs:
			result = err
			break loop
		case <-ticker.Chan():
			st := s.Status()
			observability.SetRunningApps(st.Apps)
			log.Info().
				Str("socket", st.SocketPath).
				Int("apps", st.Apps).
				Uint64("received", st.Received).
				Uint64("dropped", st.Dropped).
				Int("queued", st.Queued).
				Msg("host.Service.heartbeat")
		}
	}
	cancel()
	wg.Wait()
	return result
}

func (s *Service) handle(cmd channel.Command) {
	s.received.Add(1)
	observability.RecordCommandReceived(cmd.Kind().String())
	s.dispatcher.Dispatch(cmd)
}

func (s *Service) drop(err error) {
	s.dropped.Add(1)
	reason := "protocol"
	if errors.Is(err, protocol.ErrTruncated) {
		reason = "truncated"
	}
	observability.RecordDatagramDropped(reason)
}

func (s *Service) teardown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.lock != nil {
		_ = s.lock.Close()
	}
}
