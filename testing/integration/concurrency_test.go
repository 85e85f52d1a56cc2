package integration

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/trackz"
)

// Session is a tracked per-request resource.
type Session struct {
	trackz.Lifecycle
	User string
}

func newRegistry(t *testing.T, opts ...trackz.Option) *trackz.Registry {
	t.Helper()
	base := []trackz.Option{trackz.WithLogger(slog.New(slog.DiscardHandler))}
	reg := trackz.New(append(base, opts...)...)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// TestConcurrentCloseCountsOnce races Close from many goroutines against
// the same instances.
func TestConcurrentCloseCountsOnce(t *testing.T) {
	reg := newRegistry(t)
	sessions := trackz.Define[Session](reg, "Session")

	const n = 200
	all := make([]*Session, n)
	for i := range all {
		s, err := sessions.New(func(s *Session) error {
			s.User = fmt.Sprintf("user-%d", i)
			return nil
		})
		require.NoError(t, err)
		all[i] = s
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range all {
				_ = s.Close()
			}
		}()
	}
	wg.Wait()

	stats := sessions.Stats()
	assert.Equal(t, int64(n), stats.CreatedCount)
	assert.Equal(t, int64(n), stats.ReleasedCount)
	assert.Equal(t, 0, stats.ActiveInstances)
	assert.Equal(t, n, stats.Pending)
	runtime.KeepAlive(all)
}

// TestCloseRacesCollector drops half of the sessions while closing the
// other half, and checks every instance is released exactly once.
func TestCloseRacesCollector(t *testing.T) {
	reg := newRegistry(t)
	sessions := trackz.Define[Session](reg, "Session")

	var events atomic.Int64
	for _, kind := range []trackz.EventKind{trackz.EventReleased, trackz.EventFinalized} {
		_, err := reg.Hook(kind, func(context.Context, trackz.Event) error {
			events.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	const workers = 4
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s, err := sessions.New(nil)
				if err != nil {
					t.Error(err)
					return
				}
				if i%2 == 0 {
					_ = s.Close()
				}
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		runtime.GC()
		return sessions.Stats().ReleasedCount == workers*perWorker
	}, 10*time.Second, 20*time.Millisecond)

	stats := sessions.Stats()
	assert.Equal(t, int64(workers*perWorker), stats.CreatedCount)
	assert.Equal(t, int64(workers*perWorker/2), stats.FinalizedCount)
	assert.Equal(t, 0, stats.ActiveInstances)

	require.NoError(t, reg.Close())
	m := reg.Metrics()
	assert.Equal(t, int64(workers*perWorker), m.Released+m.Finalized)
	assert.Equal(t, m.EventsDelivered, events.Load())
}

// TestGlobalStatsDuringChurn reads statistics while classes and instances
// come and go.
func TestGlobalStatsDuringChurn(t *testing.T) {
	reg := newRegistry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				class := trackz.Define[Session](reg, fmt.Sprintf("Session-%d-%d", w, i%8))
				s, err := class.New(nil)
				if err != nil {
					t.Error(err)
					return
				}
				if i%3 == 0 {
					_ = s.Close()
				}
			}
		}(w)
	}

	for ctx.Err() == nil {
		global := reg.GlobalStats()
		sum := 0
		for _, cs := range global.Classes {
			sum += cs.ActiveInstances
			assert.LessOrEqual(t, cs.ReleasedCount, cs.CreatedCount)
			assert.LessOrEqual(t, cs.ActiveInstances+cs.Pending, int(cs.CreatedCount))
		}
		assert.Equal(t, global.ActiveInstances, sum)
		_ = reg.CheckForLeaks(time.Millisecond)
		runtime.GC()
	}
	wg.Wait()
}

// TestWeakMapSharedAcrossGoroutines uses a WeakMap as a session cache from
// several goroutines.
func TestWeakMapSharedAcrossGoroutines(t *testing.T) {
	reg := newRegistry(t)
	sessions := trackz.Define[Session](reg, "Session")
	cache := trackz.NewWeakMap[string, Session]()

	var mu sync.Mutex
	var created atomic.Int64
	get := func(user string) (*Session, error) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := cache.Load(user); ok && s.Active() {
			return s, nil
		}
		s, err := sessions.New(func(s *Session) error {
			s.User = user
			return nil
		})
		if err != nil {
			return nil, err
		}
		created.Add(1)
		cache.Store(user, s)
		return s, nil
	}

	held := make([]*Session, 0, 10)
	for i := 0; i < 10; i++ {
		s, err := get(fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		held = append(held, s)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				user := fmt.Sprintf("user-%d", i%10)
				s, err := get(user)
				if err != nil {
					t.Error(err)
					return
				}
				if s.User != user {
					t.Errorf("got session for %s, want %s", s.User, user)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), created.Load(), "held sessions are served from the cache")
	assert.Equal(t, 10, cache.Len())
	runtime.KeepAlive(held)
}
