package dispatch

import (
	"strings"
	"time"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/surface"
	"github.com/rs/zerolog/log"
)

// Config holds the settle delays applied before acting on a command.
type Config struct {
	StartDelay time.Duration
	EventDelay time.Duration
	KillDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartDelay: 10 * time.Millisecond,
		EventDelay: 10 * time.Millisecond,
		KillDelay:  time.Second,
	}
}

// StartupRecord is the most recent start-app request. Each start-app
// replaces it wholesale; the armed launch task reads it when it fires.
type StartupRecord struct {
	AppID     string
	AppURI    string
	SurfaceID int
	Width     int
	Height    int
	Surfaces  []surface.Descriptor
}

type pendingTarget struct {
	appID string
	kind  channel.Kind
}

// Dispatcher applies commands on the loop. Only Dispatch may be called from
// other goroutines.
type Dispatcher struct {
	cfg    Config
	loop   *Loop
	facade Facade
	obs    Observer

	// loop-owned
	record      StartupRecord
	launchArmed bool
	slot        *pendingTarget
}

// Option tunes a Dispatcher.
type Option func(*Dispatcher)

func WithObserver(obs Observer) Option {
	return func(d *Dispatcher) {
		if obs != nil {
			d.obs = obs
		}
	}
}

func New(loop *Loop, facade Facade, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{cfg: cfg, loop: loop, facade: facade, obs: nopObserver{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch hands cmd to the loop. It never blocks and never touches
// dispatcher state directly.
func (d *Dispatcher) Dispatch(cmd channel.Command) {
	d.loop.Post(func() { d.apply(cmd) })
}

func (d *Dispatcher) apply(cmd channel.Command) {
	kind := cmd.Kind()
	switch kind {
	case channel.StartApp:
		d.applyStartApp(cmd)
	case channel.ActivateEvent, channel.DeactivateEvent:
		d.applyEvent(kind, cmd.AppID(), d.cfg.EventDelay)
	case channel.KilledApp:
		d.applyEvent(kind, cmd.AppID(), d.cfg.KillDelay)
	case channel.ReadyEvent:
		d.applyReady(cmd.AppID())
	default:
		log.Warn().Str("command", kind.String()).Msg("dispatch.Dispatcher.apply unknown command")
		d.obs.Dropped(kind.String(), "unknown")
	}
}

func (d *Dispatcher) applyStartApp(cmd channel.Command) {
	args, err := cmd.StartApp()
	if err != nil {
		log.Warn().Err(err).Msg("dispatch.Dispatcher.applyStartApp bad arguments")
		d.obs.Dropped(channel.StartApp.String(), "bad_args")
		return
	}
	d.record = StartupRecord{
		AppID:     args.AppID,
		AppURI:    args.AppURI,
		SurfaceID: args.PID,
		Width:     args.Width,
		Height:    args.Height,
		Surfaces:  cmd.Surfaces(),
	}
	d.obs.Applied(channel.StartApp.String())
	log.Info().
		Str("app_id", args.AppID).
		Str("uri", args.AppURI).
		Int("surfaces", len(d.record.Surfaces)).
		Msg("dispatch.Dispatcher.applyStartApp recorded")

	if args.AppURI == "" {
		log.Warn().Str("app_id", args.AppID).Msg("dispatch.Dispatcher.applyStartApp empty uri; not launching")
		return
	}
	if d.launchArmed {
		log.Debug().Str("app_id", args.AppID).Msg("dispatch.Dispatcher.applyStartApp launch already armed")
		return
	}
	d.launchArmed = true
	d.loop.PostAfter(d.cfg.StartDelay, d.launch)
}

func (d *Dispatcher) applyEvent(kind channel.Kind, appID string, delay time.Duration) {
	if d.slot != nil {
		log.Info().
			Str("command", kind.String()).
			Str("app_id", appID).
			Str("pending_app_id", d.slot.appID).
			Str("pending_command", d.slot.kind.String()).
			Msg("dispatch.Dispatcher.applyEvent slot busy; dropped")
		d.obs.Dropped(kind.String(), "slot_busy")
		return
	}
	d.slot = &pendingTarget{appID: appID, kind: kind}
	d.obs.Applied(kind.String())
	d.loop.PostAfter(delay, d.fireEvent)
}

func (d *Dispatcher) applyReady(id string) {
	d.obs.Applied(channel.ReadyEvent.String())
	n, ok := d.facade.(ReadyNotifier)
	if !ok {
		log.Debug().Str("id", id).Msg("dispatch.Dispatcher.applyReady no notifier")
		return
	}
	if err := n.NotifyReady(id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("dispatch.Dispatcher.applyReady failed")
		d.obs.FacadeFailed("ready")
	}
}

func (d *Dispatcher) launch() {
	d.launchArmed = false
	rec := d.record
	desc := Describe(rec)
	instanceID, err := d.facade.Launch(desc, "", rec.AppID)
	if err != nil {
		log.Error().Err(err).Str("app_id", rec.AppID).Str("uri", rec.AppURI).Msg("dispatch.Dispatcher.launch failed")
		d.obs.FacadeFailed("launch")
		return
	}
	log.Info().
		Str("app_id", rec.AppID).
		Str("instance_id", instanceID).
		Msg("dispatch.Dispatcher.launch done")
}

func (d *Dispatcher) fireEvent() {
	t := d.slot
	d.slot = nil
	if t == nil {
		return
	}

	var (
		op  string
		err error
	)
	switch t.kind {
	case channel.KilledApp:
		op = "kill"
		err = d.facade.Kill(t.appID, t.appID)
	case channel.ActivateEvent, channel.DeactivateEvent:
		op = "activate"
		if t.kind == channel.DeactivateEvent {
			op = "deactivate"
		}
		app, found := d.facade.FindAppByID(t.appID)
		if !found {
			log.Info().Str("app_id", t.appID).Str("op", op).Msg("dispatch.Dispatcher.fireEvent app not running")
			d.obs.FacadeFailed(op)
			return
		}
		if t.kind == channel.ActivateEvent {
			err = d.facade.Activate(app)
		} else {
			err = d.facade.Deactivate(app)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("app_id", t.appID).Str("op", op).Msg("dispatch.Dispatcher.fireEvent failed")
		d.obs.FacadeFailed(op)
		return
	}
	log.Info().Str("app_id", t.appID).Str("op", op).Msg("dispatch.Dispatcher.fireEvent done")
}

// Describe turns a startup record into a launch descriptor. http(s) URIs
// launch as hosted pages; anything else is an installed app directory.
func Describe(rec StartupRecord) AppDescriptor {
	desc := AppDescriptor{
		ID:             rec.AppID,
		Type:           "web",
		Version:        "1.0",
		Title:          "webapp",
		UIRevision:     "2",
		SurfaceID:      rec.SurfaceID,
		WidthOverride:  rec.Width,
		HeightOverride: rec.Height,
		Surfaces:       append([]surface.Descriptor(nil), rec.Surfaces...),
	}
	if isURL(rec.AppURI) {
		desc.Main = rec.AppURI
	} else {
		desc.FolderPath = rec.AppURI
	}
	return desc
}

func isURL(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}
