package client

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/hostlock"
	"github.com/rs/zerolog/log"
)

// Role is what this process does for the lifetime of the session.
type Role int

const (
	RoleClient Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "client"
}

// Decide picks the process role. With waitForHost set the process never
// competes for the lock. Otherwise a running host makes it a client, and a
// free lock is taken, leaving lock held on RoleHost. Losing the race or
// failing to open the lock file falls back to RoleClient.
func Decide(lock *hostlock.Lock, waitForHost bool) Role {
	role := RoleClient
	switch {
	case waitForHost:
	case lock.IsHostRunning():
	case lock.TryBecomeHost():
		role = RoleHost
	}
	log.Info().
		Str("lock", lock.Path()).
		Bool("wait_for_host", waitForHost).
		Str("role", role.String()).
		Msg("client.Decide")
	return role
}

// Claim settles the role of a process that will not wait for a host. Decide
// can lose the lock to another process that only probes it, such as a
// concurrent status query, so a client role is kept only once a host answers
// on the socket. Otherwise Claim competes again, up to attempts times with
// pause between tries, and then gives up with ErrNoHost.
func (c *Client) Claim(ctx context.Context, lock *hostlock.Lock, attempts int, pause time.Duration) (Role, error) {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		if Decide(lock, false) == RoleHost {
			return RoleHost, nil
		}
		if c.hostReachable() {
			return RoleClient, nil
		}
		if attempt >= attempts {
			return RoleClient, ErrNoHost
		}
		log.Debug().Int("attempt", attempt).Dur("pause", pause).Msg("client.Client.Claim no host yet")
		select {
		case <-ctx.Done():
			return RoleClient, errors.Join(ErrNoHost, ctx.Err())
		case <-c.clock.After(pause):
		}
	}
}

func (c *Client) hostReachable() bool {
	if !c.IsHostRunning() {
		return false
	}
	s, err := channel.Dial(c.runtime.SocketPath())
	if err != nil {
		return false
	}
	_ = s.Close()
	return true
}
