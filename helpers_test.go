package trackz

import (
	"fmt"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Sample tracked types used across the tests.

type DatabaseConnection struct {
	Lifecycle
	URL string
}

func (d *DatabaseConnection) Execute(query string) string {
	return fmt.Sprintf("executed %q on %s", query, d.URL)
}

type CacheManager struct {
	Lifecycle
	Size  int
	cache map[string]string
}

type ModelHandle struct {
	Lifecycle
	Name string
}

type (
	connectionClass = Class[DatabaseConnection, *DatabaseConnection]
	cacheClass      = Class[CacheManager, *CacheManager]
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	base := []Option{WithLogger(slog.New(slog.DiscardHandler))}
	reg := New(append(base, opts...)...)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func connectTo(url string) func(*DatabaseConnection) error {
	return func(c *DatabaseConnection) error {
		c.URL = url
		return nil
	}
}

func cacheOf(size int) func(*CacheManager) error {
	return func(c *CacheManager) error {
		c.Size = size
		c.cache = make(map[string]string)
		return nil
	}
}

// eventually runs the collector until cond holds. Reclamation timing is up
// to the runtime, so properties that depend on it are only checked this way.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return cond()
	}, 5*time.Second, 10*time.Millisecond, msg)
}

// abandon builds n connections and drops them without closing.
//
//go:noinline
func abandon(t *testing.T, class *connectionClass, n int) {
	for i := 0; i < n; i++ {
		_, err := class.New(connectTo(fmt.Sprintf("temp://%d", i)))
		require.NoError(t, err)
	}
}
