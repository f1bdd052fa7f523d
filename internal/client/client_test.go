package client

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/danmuck/wamctl/internal/paths"
	"github.com/danmuck/wamctl/internal/surface"
	"github.com/danmuck/wamctl/internal/testutil/testlog"
	"github.com/jonboulle/clockwork"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 400*time.Millisecond {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 9, nil); got != time.Second {
		t.Fatalf("attempt9 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 100*time.Millisecond || got > 300*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestDecideRoles(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(t.TempDir())

	waiter := hostlock.New(rt.LockPath())
	if role := Decide(waiter, true); role != RoleClient {
		t.Fatalf("wait-for-host role = %s", role)
	}
	if waiter.Held() {
		t.Fatalf("waiting client must not take the lock")
	}

	first := hostlock.New(rt.LockPath())
	defer first.Close()
	if role := Decide(first, false); role != RoleHost {
		t.Fatalf("first role = %s", role)
	}
	if !first.Held() {
		t.Fatalf("host role must keep the lock")
	}

	second := hostlock.New(rt.LockPath())
	if role := Decide(second, false); role != RoleClient {
		t.Fatalf("second role = %s", role)
	}
}

func TestDecideFallsBackWhenLockUnusable(t *testing.T) {
	testlog.Start(t)
	lock := hostlock.New(filepath.Join(t.TempDir(), "missing", "wamsocket.lock"))
	if role := Decide(lock, false); role != RoleClient {
		t.Fatalf("role = %s", role)
	}
}

// blockUntilWaiting returns once WaitForHost is parked on the clock.
func blockUntilWaiting(t *testing.T, clk *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("WaitForHost never slept: %v", err)
	}
}

func TestWaitForHostPollsUntilLockHeld(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(t.TempDir())
	clk := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	c := New(rt, WithClock(clk), WithBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2}))

	done := make(chan error, 1)
	go func() { done <- c.WaitForHost(context.Background()) }()

	blockUntilWaiting(t, clk)
	clk.Advance(100 * time.Millisecond)
	blockUntilWaiting(t, clk)

	host := hostlock.New(rt.LockPath())
	if err := host.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer host.Close()
	clk.Advance(200 * time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForHost: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitForHost did not return")
	}
}

func TestClaimRetriesPastTransientHolder(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(t.TempDir())
	holder := hostlock.New(rt.LockPath())
	if err := holder.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Close()
	}()

	lock := hostlock.New(rt.LockPath())
	defer lock.Close()
	role, err := New(rt).Claim(context.Background(), lock, 20, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if role != RoleHost || !lock.Held() {
		t.Fatalf("role = %s held=%t, want host", role, lock.Held())
	}
}

func TestClaimGivesUpWithoutHost(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(filepath.Join(t.TempDir(), "missing"))
	role, err := New(rt).Claim(context.Background(), hostlock.New(rt.LockPath()), 3, time.Millisecond)
	if !errors.Is(err, ErrNoHost) || role != RoleClient {
		t.Fatalf("expected client role and ErrNoHost, got %s %v", role, err)
	}
}

func TestWaitForHostHonoursContext(t *testing.T) {
	testlog.Start(t)
	c := New(paths.Resolve(t.TempDir()), WithClock(clockwork.NewFakeClockAt(time.Unix(0, 0))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.WaitForHost(ctx)
	if !errors.Is(err, ErrNoHost) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrNoHost and context.Canceled, got %v", err)
	}
}

func TestLaunchSendsStartThenReady(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(t.TempDir())
	ln, err := channel.Listen(rt.SocketPath())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	args := channel.StartAppArgs{AppID: "webapp", AppURI: "http://localhost:8080/", PID: 7, Width: 800, Height: 600}
	surfaces := []surface.Descriptor{surface.NewPanel(surface.Left, 200, "panel", "http://localhost:8080/panel/index.html?token=x")}
	if err := New(rt).Launch(args, surfaces); err != nil {
		t.Fatalf("launch: %v", err)
	}

	start, err := ln.Receive()
	if err != nil {
		t.Fatalf("receive start: %v", err)
	}
	got, err := start.StartApp()
	if err != nil || got != args {
		t.Fatalf("start-app args = %+v,%v", got, err)
	}
	if len(start.Surfaces()) != 1 || start.Surfaces()[0] != surfaces[0] {
		t.Fatalf("surfaces = %+v", start.Surfaces())
	}
	ready, err := ln.Receive()
	if err != nil {
		t.Fatalf("receive ready: %v", err)
	}
	if ready.Kind() != channel.ReadyEvent || ready.AppID() != "webapp" {
		t.Fatalf("second command = %s", ready)
	}
}

func TestLegacyClientEvents(t *testing.T) {
	testlog.Start(t)
	rt := paths.Resolve(t.TempDir())
	ln, err := channel.Listen(rt.SocketPath())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := New(rt, WithLegacyText())
	steps := []struct {
		send func(string) error
		kind channel.Kind
	}{
		{c.Activate, channel.ActivateEvent},
		{c.Deactivate, channel.DeactivateEvent},
		{c.Killed, channel.KilledApp},
		{c.Ready, channel.ReadyEvent},
	}
	for _, step := range steps {
		if err := step.send("webapp"); err != nil {
			t.Fatalf("%s: %v", step.kind, err)
		}
		cmd, err := ln.Receive()
		if err != nil {
			t.Fatalf("receive %s: %v", step.kind, err)
		}
		if cmd.Kind() != step.kind || cmd.AppID() != "webapp" {
			t.Fatalf("got %s want %s", cmd, step.kind)
		}
	}
}

func TestSendWithoutHostIsSocketError(t *testing.T) {
	testlog.Start(t)
	err := New(paths.Resolve(t.TempDir())).Activate("webapp")
	var sockErr *channel.SocketError
	if !errors.As(err, &sockErr) {
		t.Fatalf("expected SocketError, got %v", err)
	}
}
