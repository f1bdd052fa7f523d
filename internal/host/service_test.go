package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/dispatch"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/danmuck/wamctl/internal/registry"
	"github.com/danmuck/wamctl/internal/surface"
	"github.com/danmuck/wamctl/internal/testutil/testlog"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RuntimeDir = t.TempDir()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.Dispatch = dispatch.Config{
		StartDelay: 5 * time.Millisecond,
		EventDelay: 5 * time.Millisecond,
		KillDelay:  30 * time.Millisecond,
	}
	return cfg
}

func startService(t *testing.T, svc *Service) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- svc.RunContext(ctx) }()
	select {
	case <-svc.Ready():
	case err := <-ch:
		stop()
		t.Fatalf("service exited before ready: %v", err)
	case <-time.After(3 * time.Second):
		stop()
		t.Fatalf("service never became ready")
	}
	t.Cleanup(stop)
	return stop, ch
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func send(t *testing.T, path string, cmds ...channel.Command) {
	t.Helper()
	s, err := channel.Dial(path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	for _, cmd := range cmds {
		if err := s.Send(cmd); err != nil {
			t.Fatalf("send %s: %v", cmd.Kind(), err)
		}
	}
}

func TestStartAppWithBackgroundSurfaceEndToEnd(t *testing.T) {
	testlog.Start(t)
	svc := NewService(testConfig(t))
	startService(t, svc)

	start, err := channel.NewStartApp(channel.StartAppArgs{
		AppID:  "webapp",
		AppURI: "http://localhost:8080/",
		PID:    99,
		Width:  1920,
		Height: 1080,
	}, []surface.Descriptor{surface.NewBackground("bg.html", "")})
	if err != nil {
		t.Fatalf("NewStartApp: %v", err)
	}
	send(t, svc.Runtime().SocketPath(), start, channel.NewReady("webapp"))
	eventually(t, "webapp launch", func() bool {
		list := svc.Registry().List()
		return len(list) == 1 && list[0].Ready
	})
	info := svc.Registry().List()[0]
	if info.ID != "webapp" || info.Main != "http://localhost:8080/" || info.Surfaces != 1 {
		t.Fatalf("unexpected app: %+v", info)
	}
	if svc.Status().Received != 2 {
		t.Fatalf("received = %d", svc.Status().Received)
	}
}

func TestKilledAppRemovesAfterDelay(t *testing.T) {
	testlog.Start(t)
	svc := NewService(testConfig(t))
	startService(t, svc)

	if _, err := svc.Registry().Launch(dispatch.AppDescriptor{ID: "bar", Main: "http://bar/"}, "", "bar"); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	send(t, svc.Runtime().SocketPath(), channel.NewKilled("bar"))
	eventually(t, "bar killed", func() bool { return svc.Registry().Len() == 0 })
}

func TestSecondHostIsRefused(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	first := NewService(cfg)
	startService(t, first)

	if !hostlock.New(first.Runtime().LockPath()).IsHostRunning() {
		t.Fatalf("probe should see the running host")
	}
	err := NewService(cfg).RunContext(context.Background())
	if !errors.Is(err, hostlock.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	// The first host must still be serving.
	send(t, first.Runtime().SocketPath(), channel.NewReady("nobody"))
	eventually(t, "first host receive", func() bool { return first.Status().Received == 1 })
}

func TestShutdownReleasesLockAndSocket(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	svc := NewService(cfg)
	cancel, done := startService(t, svc)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop")
	}
	if hostlock.New(svc.Runtime().LockPath()).IsHostRunning() {
		t.Fatalf("lock still held after shutdown")
	}
	if _, err := channel.Dial(svc.Runtime().SocketPath()); err == nil {
		t.Fatalf("socket still reachable after shutdown")
	}
}

func TestLegacyTextAndBadDatagrams(t *testing.T) {
	testlog.Start(t)
	svc := NewService(testConfig(t))
	startService(t, svc)

	raw, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: svc.Runtime().SocketPath(), Net: "unixgram"})
	if err != nil {
		t.Fatalf("dial raw: %v", err)
	}
	defer raw.Close()
	for _, dgram := range []string{
		"bogus-event x\n",
		"start-app x http://x 1 2\n",
		"start-app x http://x 1 2 3\n",
	} {
		if _, err := raw.Write([]byte(dgram)); err != nil {
			t.Fatalf("write %q: %v", dgram, err)
		}
	}

	eventually(t, "legacy launch", func() bool { return svc.Registry().Len() == 1 })
	st := svc.Status()
	if st.Dropped != 2 || st.Received != 1 {
		t.Fatalf("status = %+v, want 2 dropped 1 received", st)
	}
}

func TestAdminEndpointListsApps(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.AdminAddr = "127.0.0.1:0"
	cfg.AdminToken = "s3cret"
	svc := NewService(cfg)
	startService(t, svc)
	if _, err := svc.Registry().Launch(dispatch.AppDescriptor{ID: "webapp", Main: "http://x/"}, "", "webapp"); err != nil {
		t.Fatalf("launch: %v", err)
	}

	resp, err := http.Get("http://" + svc.AdminAddr() + "/apps")
	if err != nil {
		t.Fatalf("GET /apps: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /apps status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+svc.AdminAddr()+"/apps", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /apps: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Apps []registry.AppInfo `json:"apps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Apps) != 1 || body.Apps[0].ID != "webapp" {
		t.Fatalf("unexpected apps: %+v", body.Apps)
	}
}

func TestInvalidHeartbeatRejected(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.HeartbeatInterval = 0
	if err := NewService(cfg).RunContext(context.Background()); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
}
