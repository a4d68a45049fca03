package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentchat/internal/types"
)

// ErrBusy is returned when a send is attempted on a conversation that
// already has one in flight. The second send is dropped, not queued.
var ErrBusy = errors.New("conversation busy")

// Guard admits at most one in-flight send per conversation, with a global
// semaphore limiting the number of concurrent sends across conversations.
type Guard struct {
	lanes  map[types.ConversationKey]*lane
	global *semaphore.Weighted
	active atomic.Int64
	mu     sync.Mutex
}

// NewGuard creates a Guard allowing up to maxConcurrent sends at once.
func NewGuard(maxConcurrent int64) *Guard {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Guard{
		lanes:  make(map[types.ConversationKey]*lane),
		global: semaphore.NewWeighted(maxConcurrent),
	}
}

// lane is the single-slot semaphore of one conversation. refs counts the
// callers holding or trying the lane and is guarded by Guard.mu; the lane is
// dropped when it reaches zero.
type lane struct {
	sem  *semaphore.Weighted
	held atomic.Bool
	refs int
}

func (g *Guard) join(key types.ConversationKey) *lane {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lanes[key]
	if !ok {
		l = &lane{sem: semaphore.NewWeighted(1)}
		g.lanes[key] = l
	}
	l.refs++
	return l
}

func (g *Guard) leave(key types.ConversationKey, l *lane) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 && g.lanes[key] == l {
		delete(g.lanes, key)
	}
}

// Acquire claims the conversation. It fails immediately with ErrBusy when
// the conversation is taken and otherwise waits for a global slot. The
// returned func releases both.
func (g *Guard) Acquire(ctx context.Context, key types.ConversationKey) (func(), error) {
	l := g.join(key)
	if !l.sem.TryAcquire(1) {
		g.leave(key, l)
		return nil, ErrBusy
	}
	l.held.Store(true)
	if err := g.global.Acquire(ctx, 1); err != nil {
		l.held.Store(false)
		l.sem.Release(1)
		g.leave(key, l)
		return nil, err
	}
	g.active.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.active.Add(-1)
			g.global.Release(1)
			l.held.Store(false)
			l.sem.Release(1)
			g.leave(key, l)
		})
	}, nil
}

// Busy reports whether key has a send in flight.
func (g *Guard) Busy(key types.ConversationKey) bool {
	g.mu.Lock()
	l, ok := g.lanes[key]
	g.mu.Unlock()
	return ok && l.held.Load()
}

// Active returns the number of sends in flight.
func (g *Guard) Active() int64 {
	return g.active.Load()
}

// WaitIdle blocks until no sends are in flight, or the timeout expires.
// Returns true if idle, false if timed out.
func (g *Guard) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if g.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
