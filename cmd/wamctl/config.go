package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wamctl/internal/host"
	"github.com/danmuck/wamctl/internal/paths"
)

const defaultWaitTimeout = 30 * time.Second

type fileConfig struct {
	RuntimeDir        string   `toml:"runtime_dir"`
	StartDelay        string   `toml:"start_delay"`
	EventDelay        string   `toml:"event_delay"`
	KillDelay         string   `toml:"kill_delay"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	AdminCORSOrigins  []string `toml:"admin_cors_origins"`
	WaitForHost       bool     `toml:"wait_for_host"`
	WaitTimeout       string   `toml:"wait_timeout"`
}

// cliConfig is everything a wamctl invocation needs, host or client.
type cliConfig struct {
	Host        host.Config
	Env         paths.Env
	WaitForHost bool
	WaitTimeout time.Duration
}

// defaultConfig starts from the host defaults and the process environment.
func defaultConfig(env paths.Env) cliConfig {
	cfg := cliConfig{
		Host:        host.DefaultConfig(),
		Env:         env,
		WaitForHost: env.WaitForHost,
		WaitTimeout: defaultWaitTimeout,
	}
	cfg.Host.RuntimeDir = paths.FromEnv(env).Dir
	return cfg
}

// loadConfig overlays the keys defined in path onto defaultConfig(env). An
// empty path yields the defaults.
func loadConfig(path string, env paths.Env) (cliConfig, error) {
	cfg := defaultConfig(env)
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load wamctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cliConfig{}, fmt.Errorf("load wamctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("runtime_dir") {
		if dir := strings.TrimSpace(raw.RuntimeDir); dir != "" {
			cfg.Host.RuntimeDir = dir
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"start_delay", raw.StartDelay, &cfg.Host.Dispatch.StartDelay},
		{"event_delay", raw.EventDelay, &cfg.Host.Dispatch.EventDelay},
		{"kill_delay", raw.KillDelay, &cfg.Host.Dispatch.KillDelay},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Host.HeartbeatInterval},
		{"wait_timeout", raw.WaitTimeout, &cfg.WaitTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v < 0 {
			return cliConfig{}, fmt.Errorf("parse %s: negative duration %s", d.key, v)
		}
		*d.dst = v
	}

	if meta.IsDefined("admin_addr") {
		cfg.Host.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("admin_token") {
		cfg.Host.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("admin_cors_origins") {
		cfg.Host.AdminCORSOrigins = raw.AdminCORSOrigins
	}

	// WAIT_FOR_HOST_SERVICE=1 in the environment always wins.
	if meta.IsDefined("wait_for_host") && !env.WaitForHost {
		cfg.WaitForHost = raw.WaitForHost
	}

	return cfg, nil
}
