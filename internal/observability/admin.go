package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/wamctl/internal/auth"
	"github.com/danmuck/wamctl/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AppLister is the read side of the app registry.
type AppLister interface {
	List() []registry.AppInfo
}

// StatusFunc reports host facts for /health.
type StatusFunc func() gin.H

// AdminOption tunes NewAdminRouter.
type AdminOption func(*adminOptions)

type adminOptions struct {
	validator   auth.Validator
	corsOrigins []string
}

// WithTokenValidator requires a bearer token on every route except /health.
// A nil validator leaves the routes open.
func WithTokenValidator(v auth.Validator) AdminOption {
	return func(o *adminOptions) { o.validator = v }
}

// WithCORSOrigins lets pages served from origins read the admin API, so a
// web app can poll the host for its own state.
func WithCORSOrigins(origins []string) AdminOption {
	return func(o *adminOptions) { o.corsOrigins = normalizeOrigins(origins) }
}

// NewAdminRouter builds the host's loopback admin API.
func NewAdminRouter(apps AppLister, status StatusFunc, opts ...AdminOption) *gin.Engine {
	var o adminOptions
	for _, opt := range opts {
		opt(&o)
	}
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware())
	if len(o.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: o.corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		}
		if status != nil {
			for k, v := range status() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	protected := r.Group("/")
	if o.validator != nil {
		protected.Use(RequireToken(o.validator))
	}

	protected.GET("/apps", func(c *gin.Context) {
		list := apps.List()
		SetRunningApps(len(list))
		c.JSON(http.StatusOK, gin.H{"apps": list})
	})

	protected.GET("/apps/:id", func(c *gin.Context) {
		id := c.Param("id")
		for _, app := range apps.List() {
			if app.ID == id {
				c.JSON(http.StatusOK, app)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "app not running", "id": id})
	})

	protected.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// AdminServer serves an admin router until its context ends.
type AdminServer struct {
	srv *http.Server
	ln  net.Listener
}

// ListenAdmin binds addr. Use "127.0.0.1:0" for an ephemeral port.
func ListenAdmin(addr string, handler http.Handler) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &AdminServer{
		srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

func (a *AdminServer) Addr() string { return a.ln.Addr().String() }

// Serve blocks until ctx is done, then shuts the server down.
func (a *AdminServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Serve(a.ln) }()
	log.Info().Str("addr", a.Addr()).Msg("observability.AdminServer.Serve listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
