package balancer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// queueServer fakes a backend whose /queue reports the given depths and
// whose introspection surface answers.
func queueServer(t *testing.T, running, pending int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queue":
			queue := backend.QueueStatus{
				Running: make([]any, running),
				Pending: make([]any, pending),
			}
			json.NewEncoder(w).Encode(queue)
		case "/object_info":
			json.NewEncoder(w).Encode(map[string]any{"KSampler": map[string]any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPick_LeastLoaded(t *testing.T) {
	busy := queueServer(t, 3, 4)
	idle := queueServer(t, 0, 1)

	lb := New(time.Second)
	lb.Register("busy", busy.URL, "")
	lb.Register("idle", idle.URL, "")

	picked, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	require.NoError(t, err)
	assert.Equal(t, idle.URL, picked)

	snap, ok := lb.Snapshot(busy.URL)
	require.True(t, ok)
	assert.True(t, snap.Online)
	assert.Equal(t, 7, snap.TotalLoad)
}

func TestPick_LeastLoadedTieBreaksByRegistrationOrder(t *testing.T) {
	first := queueServer(t, 1, 0)
	second := queueServer(t, 1, 0)

	lb := New(time.Second)
	lb.Register("first", first.URL, "")
	lb.Register("second", second.URL, "")

	picked, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	require.NoError(t, err)
	assert.Equal(t, first.URL, picked)
}

func TestPick_RoundRobinRotates(t *testing.T) {
	a := queueServer(t, 0, 0)
	b := queueServer(t, 0, 0)

	lb := New(time.Second)
	lb.Register("a", a.URL, "")
	lb.Register("b", b.URL, "")

	var picks []string
	for range 4 {
		picked, err := lb.Pick(context.Background(), StrategyRoundRobin)
		require.NoError(t, err)
		picks = append(picks, picked)
	}
	assert.Equal(t, []string{a.URL, b.URL, a.URL, b.URL}, picks)
}

func TestPick_RandomStaysInOnlineSubset(t *testing.T) {
	online := queueServer(t, 0, 0)

	lb := New(200 * time.Millisecond)
	lb.Register("online", online.URL, "")
	lb.Register("offline", "http://127.0.0.1:1", "unreachable")

	for range 5 {
		picked, err := lb.Pick(context.Background(), StrategyRandom)
		require.NoError(t, err)
		assert.Equal(t, online.URL, picked)
	}
}

func TestPick_OfflineBackendExcluded(t *testing.T) {
	alive := queueServer(t, 2, 2)

	lb := New(200 * time.Millisecond)
	lb.Register("dead", "http://127.0.0.1:1", "")
	lb.Register("alive", alive.URL, "")

	picked, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	require.NoError(t, err)
	assert.Equal(t, alive.URL, picked)

	snap, ok := lb.Snapshot("http://127.0.0.1:1")
	require.True(t, ok)
	assert.False(t, snap.Online)
	assert.NotEmpty(t, snap.LastError)
}

func TestPick_BrokenIntrospectionMarksOffline(t *testing.T) {
	// The queue answers but introspection is down: the backend must be
	// reported offline.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queue":
			json.NewEncoder(w).Encode(backend.QueueStatus{})
		default:
			http.Error(w, "object_info unavailable", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(broken.Close)

	lb := New(time.Second)
	lb.Register("broken", broken.URL, "")

	_, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	assert.ErrorIs(t, err, models.ErrNoBackendAvailable)

	snap, ok := lb.Snapshot(broken.URL)
	require.True(t, ok)
	assert.False(t, snap.Online)
	assert.Contains(t, snap.LastError, "object_info unavailable")
}

func TestPick_NoBackendAvailable(t *testing.T) {
	lb := New(200 * time.Millisecond)
	_, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	assert.ErrorIs(t, err, models.ErrNoBackendAvailable)

	lb.Register("dead", "http://127.0.0.1:1", "")
	_, err = lb.Pick(context.Background(), StrategyLeastLoaded)
	assert.ErrorIs(t, err, models.ErrNoBackendAvailable)
}

func TestRefresh_ProbesInParallel(t *testing.T) {
	var inFlight, peak atomic.Int32

	slow := func() *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			json.NewEncoder(w).Encode(backend.QueueStatus{})
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	lb := New(time.Second)
	for range 4 {
		lb.Register("", slow().URL, "")
	}

	start := time.Now()
	lb.Refresh(context.Background())
	elapsed := time.Since(start)

	// Each probe makes two sequential calls (queue + introspect), so a
	// fanned-out refresh of four backends stays near 100ms while a
	// serialized one would need ~400ms.
	assert.Less(t, elapsed, 250*time.Millisecond, "probes must fan out, not serialize")
	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestUnregister(t *testing.T) {
	srv := queueServer(t, 0, 0)

	lb := New(time.Second)
	lb.Register("a", srv.URL, "")
	require.Len(t, lb.Snapshots(), 1)

	lb.Unregister(srv.URL)
	assert.Empty(t, lb.Snapshots())

	_, err := lb.Pick(context.Background(), StrategyLeastLoaded)
	assert.ErrorIs(t, err, models.ErrNoBackendAvailable)
}
