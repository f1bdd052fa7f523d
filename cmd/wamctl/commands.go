package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/wamctl/internal/client"
	"github.com/danmuck/wamctl/internal/host"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/danmuck/wamctl/internal/manifest"
	"github.com/danmuck/wamctl/internal/paths"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var waitFlag bool

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the host until SIGINT or SIGTERM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		return host.NewService(cfg.Host).Run()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <manifest.toml>",
	Short: "Launch an app, becoming host if none is running",
	Long: `run launches the app described by the manifest. If no host is running
and WAIT_FOR_HOST_SERVICE is not set, this process becomes the host. On
SIGINT or SIGTERM a client reports killed-app for its app before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		m, err := loadManifest(args[0], cfg.Env)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runApp(ctx, cfg, m)
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <manifest.toml>",
	Short: "Ask the running host to launch an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		m, err := loadManifest(args[0], cfg.Env)
		if err != nil {
			return err
		}
		c := client.New(paths.Resolve(cfg.Host.RuntimeDir))
		if err := ensureHost(cmd.Context(), c, cfg, waitFlag); err != nil {
			return err
		}
		return c.Launch(m.StartAppArgs(os.Getpid()), m.Descriptors())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a host is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		return printStatus(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

func eventCommand(use, short string, send func(*client.Client, string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <app-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			c := client.New(paths.Resolve(cfg.Host.RuntimeDir))
			if err := ensureHost(cmd.Context(), c, cfg, waitFlag); err != nil {
				return err
			}
			return send(c, args[0])
		},
	}
	cmd.Flags().BoolVar(&waitFlag, "wait", false, "wait for a host instead of failing")
	return cmd
}

func init() {
	launchCmd.Flags().BoolVar(&waitFlag, "wait", false, "wait for a host instead of failing")
	rootCmd.AddCommand(hostCmd, runCmd, launchCmd, statusCmd)
	rootCmd.AddCommand(
		eventCommand("activate", "Bring a running app to the foreground", (*client.Client).Activate),
		eventCommand("deactivate", "Send a running app to the background", (*client.Client).Deactivate),
		eventCommand("killed", "Report that an app's process exited", (*client.Client).Killed),
		eventCommand("ready", "Report that an app's surfaces are up", (*client.Client).Ready),
	)
}

// loadManifest reads path and applies the AFM_ID override.
func loadManifest(path string, env paths.Env) (manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if env.AppID != "" && env.AppID != m.ID {
		log.Info().Str("manifest_id", m.ID).Str("afm_id", env.AppID).Msg("wamctl.loadManifest id override")
		m.ID = env.AppID
		if err := manifest.Validate(m); err != nil {
			return manifest.Manifest{}, err
		}
	}
	return m, nil
}

// ensureHost returns nil when a host is running, waiting for one when
// asked to.
func ensureHost(ctx context.Context, c *client.Client, cfg cliConfig, wait bool) error {
	if c.IsHostRunning() {
		return nil
	}
	if !wait && !cfg.WaitForHost {
		return client.ErrNoHost
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
	defer cancel()
	return c.WaitForHost(ctx)
}

// A run that finds neither a host nor a free lock retries briefly, since the
// lock may only have been held by another process's probe.
const (
	claimAttempts = 5
	claimPause    = 20 * time.Millisecond
)

// runApp is the launcher flow: pick a role, launch the app, then hold until
// ctx ends.
func runApp(ctx context.Context, cfg cliConfig, m manifest.Manifest) error {
	rt := paths.Resolve(cfg.Host.RuntimeDir)
	lock := hostlock.New(rt.LockPath())
	c := client.New(rt)

	role := client.RoleClient
	if cfg.WaitForHost {
		if err := ensureHost(ctx, c, cfg, true); err != nil {
			return err
		}
	} else {
		var err error
		if role, err = c.Claim(ctx, lock, claimAttempts, claimPause); err != nil {
			return err
		}
	}

	var hostDone chan error
	if role == client.RoleHost {
		svc := host.NewService(cfg.Host, host.WithLock(lock))
		hostDone = make(chan error, 1)
		go func() { hostDone <- svc.RunContext(ctx) }()
		select {
		case <-svc.Ready():
		case err := <-hostDone:
			return err
		}
	}

	if err := c.Launch(m.StartAppArgs(os.Getpid()), m.Descriptors()); err != nil {
		return fmt.Errorf("launch %s: %w", m.ID, err)
	}
	log.Info().
		Str("app_id", m.ID).
		Str("role", role.String()).
		Str("origin", m.Origin()).
		Msg("wamctl.runApp launched")

	<-ctx.Done()
	if hostDone != nil {
		return <-hostDone
	}
	if err := c.Killed(m.ID); err != nil {
		log.Warn().Err(err).Str("app_id", m.ID).Msg("wamctl.runApp killed-app not delivered")
	}
	return nil
}

func printStatus(ctx context.Context, out io.Writer, cfg cliConfig) error {
	rt := paths.Resolve(cfg.Host.RuntimeDir)
	running := client.New(rt).IsHostRunning()
	fmt.Fprintf(out, "runtime: %s\nsocket:  %s\nhost:    %t\n", rt.Dir, rt.SocketPath(), running)
	if !running || cfg.Host.AdminAddr == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, path := range []string{"/health", "/apps"} {
		body, err := adminGet(ctx, cfg.Host, path)
		if err != nil {
			fmt.Fprintf(out, "admin:   %s unreachable (%v)\n", path, err)
			return nil
		}
		fmt.Fprintf(out, "admin:   %s %s\n", path, bytes.TrimSpace(body))
	}
	return nil
}

func adminGet(ctx context.Context, cfg host.Config, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.AdminAddr+path, nil)
	if err != nil {
		return nil, err
	}
	if cfg.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AdminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}
