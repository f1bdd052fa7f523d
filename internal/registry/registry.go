// Package registry is the host's canonical, in-memory record of running web
// applications. It implements the lifecycle facade the dispatcher drives.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wamctl/internal/dispatch"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidAppID     = errors.New("registry: invalid app id")
	ErrNotRunning       = errors.New("registry: app not running")
	ErrInstanceMismatch = errors.New("registry: instance id mismatch")
	ErrForeignHandle    = errors.New("registry: handle not issued by this registry")
)

// Held ready-events are bounded: a ready for an app that never launches is
// forgotten after heldReadyTTL, and at most maxHeldReady are kept at once.
const (
	maxHeldReady = 64
	heldReadyTTL = 30 * time.Second
)

type State string

const (
	StateLaunched   State = "launched"
	StateForeground State = "foreground"
	StateBackground State = "background"
)

// App is one running application.
type App struct {
	ID         string
	InstanceID string
	Desc       dispatch.AppDescriptor
	State      State
	Ready      bool
	LaunchedAt time.Time
	Relaunches int
}

func (a *App) AppID() string { return a.ID }

// AppInfo is a read-only snapshot of an App.
type AppInfo struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Main       string    `json:"main"`
	State      State     `json:"state"`
	Ready      bool      `json:"ready"`
	Surfaces   int       `json:"surfaces"`
	LaunchedAt time.Time `json:"launched_at"`
	Relaunches int       `json:"relaunches"`
}

// Registry stores running apps by id. Lifecycle calls arrive on the dispatch
// loop; snapshots may be taken from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*App
	early map[string]time.Time // ready-events that beat their launch
	clock clockwork.Clock
}

var _ dispatch.Facade = (*Registry)(nil)
var _ dispatch.ReadyNotifier = (*Registry)(nil)

func New(clk clockwork.Clock) *Registry {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Registry{items: make(map[string]*App), early: make(map[string]time.Time), clock: clk}
}

// ValidateAppID rejects empty ids and ids containing whitespace.
func ValidateAppID(id string) error {
	if id == "" || strings.TrimSpace(id) != id || strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidAppID, id)
	}
	return nil
}

// Launch registers desc as running. Launching an app that is already running
// refreshes its descriptor and keeps the existing instance id.
func (r *Registry) Launch(desc dispatch.AppDescriptor, params string, launchingAppID string) (string, error) {
	if err := ValidateAppID(desc.ID); err != nil {
		return "", err
	}
	if desc.Main == "" && desc.FolderPath != "" {
		desc.Main = "file://" + filepath.Join(desc.FolderPath, "index.html")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.items[desc.ID]; ok {
		app.Desc = desc
		app.State = StateForeground
		app.Relaunches++
		log.Info().
			Str("app_id", desc.ID).
			Str("instance_id", app.InstanceID).
			Int("relaunches", app.Relaunches).
			Msg("registry.Registry.Launch relaunch")
		return app.InstanceID, nil
	}

	app := &App{
		ID:         desc.ID,
		InstanceID: uuid.NewString(),
		Desc:       desc,
		State:      StateLaunched,
		LaunchedAt: r.clock.Now(),
	}
	if at, ok := r.early[app.ID]; ok {
		app.Ready = app.LaunchedAt.Sub(at) <= heldReadyTTL
		delete(r.early, app.ID)
	}
	r.items[app.ID] = app
	log.Info().
		Str("app_id", app.ID).
		Str("instance_id", app.InstanceID).
		Str("launching_app_id", launchingAppID).
		Str("main", desc.Main).
		Int("surfaces", len(desc.Surfaces)).
		Msg("registry.Registry.Launch")
	return app.InstanceID, nil
}

func (r *Registry) FindAppByID(appID string) (dispatch.AppHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.items[appID]
	if !ok {
		return nil, false
	}
	return app, true
}

func (r *Registry) Activate(h dispatch.AppHandle) error {
	return r.setState(h, StateForeground)
}

func (r *Registry) Deactivate(h dispatch.AppHandle) error {
	return r.setState(h, StateBackground)
}

func (r *Registry) setState(h dispatch.AppHandle, state State) error {
	app, ok := h.(*App)
	if !ok {
		return ErrForeignHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[app.ID] != app {
		return fmt.Errorf("%w: %s", ErrNotRunning, app.ID)
	}
	app.State = state
	log.Info().Str("app_id", app.ID).Str("state", string(state)).Msg("registry.Registry.setState")
	return nil
}

// Kill removes an app. instanceID may be the app's instance id or, as sent
// by killed-app, the app id itself.
func (r *Registry) Kill(appID, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.items[appID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, appID)
	}
	if instanceID != app.InstanceID && instanceID != appID {
		return fmt.Errorf("%w: app=%s instance=%s", ErrInstanceMismatch, appID, instanceID)
	}
	delete(r.items, appID)
	delete(r.early, appID)
	log.Info().Str("app_id", appID).Str("instance_id", app.InstanceID).Msg("registry.Registry.Kill")
	return nil
}

// NotifyReady marks an app as having finished loading its surfaces. A client
// sends ready-event right behind start-app, so it usually arrives before the
// delayed launch; in that case readiness is held until Launch.
func (r *Registry) NotifyReady(id string) error {
	if err := ValidateAppID(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.items[id]
	if !ok {
		r.holdReadyLocked(id)
		log.Debug().Str("app_id", id).Int("held", len(r.early)).Msg("registry.Registry.NotifyReady deferred")
		return nil
	}
	app.Ready = true
	log.Info().Str("app_id", id).Msg("registry.Registry.NotifyReady")
	return nil
}

// holdReadyLocked records an early ready for id, dropping expired entries
// and, when still full, the oldest one.
func (r *Registry) holdReadyLocked(id string) {
	now := r.clock.Now()
	if _, ok := r.early[id]; !ok && len(r.early) >= maxHeldReady {
		oldestID, oldest := "", time.Time{}
		for held, at := range r.early {
			if now.Sub(at) > heldReadyTTL {
				delete(r.early, held)
				continue
			}
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = held, at
			}
		}
		if len(r.early) >= maxHeldReady {
			delete(r.early, oldestID)
		}
	}
	r.early[id] = now
}

// List returns snapshots ordered by id.
func (r *Registry) List() []AppInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]AppInfo, 0, len(r.items))
	for _, app := range r.items {
		list = append(list, AppInfo{
			ID:         app.ID,
			InstanceID: app.InstanceID,
			Main:       app.Desc.Main,
			State:      app.State,
			Ready:      app.Ready,
			Surfaces:   len(app.Desc.Surfaces),
			LaunchedAt: app.LaunchedAt,
			Relaunches: app.Relaunches,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
