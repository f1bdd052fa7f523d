// Package paths resolves the per-session runtime directory shared by the
// host and its clients.
//
// Ownership boundary:
// - runtime directory fallback
// - socket and lock file names
// - environment switches read at process start
package paths

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultRuntimeDir = "/tmp"
	SocketName        = "wamsocket"
	LockName          = SocketName + ".lock"
)

// Env holds the environment switches honoured by wamctl processes.
type Env struct {
	RuntimeDir  string `envconfig:"XDG_RUNTIME_DIR"`
	WaitForHost bool   `envconfig:"WAIT_FOR_HOST_SERVICE" default:"false"`
	AppID       string `envconfig:"AFM_ID"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("paths: load env: %w", err)
	}
	return env, nil
}

// Runtime is the resolved location of the shared socket and lock file.
type Runtime struct {
	Dir string
}

// Resolve picks dir if non-empty, otherwise falls back to /tmp.
func Resolve(dir string) Runtime {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = DefaultRuntimeDir
	}
	return Runtime{Dir: filepath.Clean(dir)}
}

// FromEnv resolves the runtime directory from XDG_RUNTIME_DIR.
func FromEnv(env Env) Runtime {
	return Resolve(env.RuntimeDir)
}

func (r Runtime) SocketPath() string {
	return filepath.Join(r.Dir, SocketName)
}

func (r Runtime) LockPath() string {
	return filepath.Join(r.Dir, LockName)
}
