package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wamctl/internal/paths"
	"github.com/danmuck/wamctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wamctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigExampleOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("ex.config.toml", paths.Env{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Host.RuntimeDir != "/run/user/1000" {
		t.Fatalf("unexpected runtime dir: %q", cfg.Host.RuntimeDir)
	}
	if cfg.Host.Dispatch.StartDelay != 10*time.Millisecond || cfg.Host.Dispatch.KillDelay != time.Second {
		t.Fatalf("unexpected dispatch delays: %+v", cfg.Host.Dispatch)
	}
	if cfg.Host.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.Host.HeartbeatInterval)
	}
	if cfg.Host.AdminAddr != "127.0.0.1:7020" || cfg.Host.AdminToken != "changeme" {
		t.Fatalf("unexpected admin settings: %q %q", cfg.Host.AdminAddr, cfg.Host.AdminToken)
	}
	if len(cfg.Host.AdminCORSOrigins) != 1 || cfg.Host.AdminCORSOrigins[0] != "http://localhost:1234" {
		t.Fatalf("unexpected cors origins: %v", cfg.Host.AdminCORSOrigins)
	}
	if cfg.WaitTimeout != 20*time.Second || cfg.WaitForHost {
		t.Fatalf("unexpected wait settings: %v %v", cfg.WaitTimeout, cfg.WaitForHost)
	}
}

func TestLoadConfigDefaultsFromEnv(t *testing.T) {
	testlog.Start(t)
	env := paths.Env{RuntimeDir: "/run/user/42", WaitForHost: true}
	cfg, err := loadConfig("", env)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Host.RuntimeDir != "/run/user/42" || !cfg.WaitForHost {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WaitTimeout != defaultWaitTimeout {
		t.Fatalf("unexpected wait timeout: %v", cfg.WaitTimeout)
	}

	cfg, err = loadConfig(writeConfig(t, "wait_for_host = false\nheartbeat_interval = \"1m\"\n"), env)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.WaitForHost {
		t.Fatalf("WAIT_FOR_HOST_SERVICE must override the file")
	}
	if cfg.Host.HeartbeatInterval != time.Minute {
		t.Fatalf("unexpected heartbeat: %v", cfg.Host.HeartbeatInterval)
	}
	if cfg.Host.Dispatch.EventDelay != 10*time.Millisecond {
		t.Fatalf("undefined keys must keep defaults: %+v", cfg.Host.Dispatch)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": "kill_delay = \"soon\"\n",
		"negative":     "start_delay = \"-1s\"\n",
		"unknown key":  "colour = \"blue\"\n",
		"syntax":       "runtime_dir = \n",
	}
	for name, body := range cases {
		if _, err := loadConfig(writeConfig(t, body), paths.Env{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), paths.Env{})
	if err == nil || !strings.Contains(err.Error(), "load wamctl config") {
		t.Fatalf("expected load error, got %v", err)
	}
}
