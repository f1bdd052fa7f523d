package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrLoopRunning = errors.New("dispatch: loop already running")

// Loop runs posted tasks one at a time in FIFO order. Post is safe from any
// goroutine; tasks only ever execute on the goroutine calling Run (or Drain).
type Loop struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	queue   []func()
	delayed []delayedTask
	seq     uint64
	wake    chan struct{}
	running atomic.Bool
}

type delayedTask struct {
	at  time.Time
	seq uint64
	fn  func()
}

func NewLoop(clk clockwork.Clock) *Loop {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Loop{clock: clk, wake: make(chan struct{}, 1)}
}

func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Post enqueues fn. It never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// PostAfter queues fn to run on the loop once d has elapsed on the loop's
// clock. Tasks due at the same instant run in the order they were posted.
func (l *Loop) PostAfter(d time.Duration, fn func()) {
	l.mu.Lock()
	l.seq++
	l.delayed = append(l.delayed, delayedTask{at: l.clock.Now().Add(d), seq: l.seq, fn: fn})
	sort.SliceStable(l.delayed, func(i, j int) bool {
		a, b := l.delayed[i], l.delayed[j]
		if a.at.Equal(b.at) {
			return a.seq < b.seq
		}
		return a.at.Before(b.at)
	})
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks ready to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Delayed returns the number of tasks still waiting on their delay.
func (l *Loop) Delayed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.delayed)
}

// promoteDueLocked moves delayed tasks whose time has come onto the queue
// and returns how long until the next one is due, or -1 when none remain.
func (l *Loop) promoteDueLocked() time.Duration {
	now := l.clock.Now()
	n := 0
	for n < len(l.delayed) && !l.delayed[n].at.After(now) {
		l.queue = append(l.queue, l.delayed[n].fn)
		n++
	}
	l.delayed = l.delayed[n:]
	if len(l.delayed) == 0 {
		return -1
	}
	return l.delayed[0].at.Sub(now)
}

// Drain runs queued and due tasks, including ones they post, until nothing
// is runnable. It returns how many ran. Callers must not Drain concurrently
// with Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		l.promoteDueLocked()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Run executes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	log.Debug().Msg("dispatch.Loop.Run started")
	for {
		l.Drain()

		l.mu.Lock()
		next := l.promoteDueLocked()
		ready := len(l.queue) > 0
		l.mu.Unlock()
		if ready {
			continue
		}

		var due <-chan time.Time
		var timer clockwork.Timer
		if next >= 0 {
			timer = l.clock.NewTimer(next)
			due = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Debug().Int("queued", l.Len()).Int("delayed", l.Delayed()).Msg("dispatch.Loop.Run stopped")
			return ctx.Err()
		case <-l.wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}
