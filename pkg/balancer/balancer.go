// Package balancer tracks liveness and queue depth of the backend fleet
// and picks a backend per job by strategy. Selection is advisory: the
// snapshot map is process-local, and the backend's own queue is the
// source of truth once a job is submitted.
package balancer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// Selection strategies.
const (
	StrategyLeastLoaded = "least_loaded"
	StrategyRoundRobin  = "round_robin"
	StrategyRandom      = "random"
)

// HealthSnapshot is the last observed state of one backend.
type HealthSnapshot struct {
	Name        string     `json:"name,omitempty"`
	Address     string     `json:"address"`
	Description string     `json:"description,omitempty"`
	Online      bool       `json:"online"`
	Running     int        `json:"running"`
	Pending     int        `json:"pending"`
	TotalLoad   int        `json:"total_load"`
	LastCheck   *time.Time `json:"last_check,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// LoadBalancer maintains health snapshots for a registered fleet.
type LoadBalancer struct {
	mu          sync.Mutex
	backends    map[string]*HealthSnapshot
	order       []string // insertion order, for deterministic ties
	rrIndex     int
	checkPeriod time.Duration
	rng         *rand.Rand

	// clientFor builds the probe client; replaceable in tests.
	clientFor func(address string) *backend.HTTPClient
}

// New creates an empty balancer. checkTimeout bounds each health probe so
// a degraded backend never stalls scheduling beyond its own timeout.
func New(checkTimeout time.Duration) *LoadBalancer {
	if checkTimeout <= 0 {
		checkTimeout = 10 * time.Second
	}
	return &LoadBalancer{
		backends:    make(map[string]*HealthSnapshot),
		checkPeriod: checkTimeout,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		clientFor: func(address string) *backend.HTTPClient {
			return backend.NewHTTPClient(address, "health-probe")
		},
	}
}

// Register adds a backend to the fleet. Registering an existing address
// updates its name and description only.
func (lb *LoadBalancer) Register(name, address, description string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if snap, ok := lb.backends[address]; ok {
		snap.Name = name
		snap.Description = description
		return
	}
	lb.backends[address] = &HealthSnapshot{
		Name:        name,
		Address:     address,
		Description: description,
	}
	lb.order = append(lb.order, address)
}

// Unregister removes a backend from the fleet.
func (lb *LoadBalancer) Unregister(address string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	delete(lb.backends, address)
	for i, addr := range lb.order {
		if addr == address {
			lb.order = append(lb.order[:i], lb.order[i+1:]...)
			break
		}
	}
}

// Refresh probes every registered backend in parallel and joins before
// returning. A failed probe marks the snapshot offline.
func (lb *LoadBalancer) Refresh(ctx context.Context) {
	lb.mu.Lock()
	addresses := make([]string, len(lb.order))
	copy(addresses, lb.order)
	lb.mu.Unlock()

	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			lb.probe(ctx, addr)
		}(address)
	}
	wg.Wait()
}

func (lb *LoadBalancer) probe(ctx context.Context, address string) {
	ctx, cancel := context.WithTimeout(ctx, lb.checkPeriod)
	defer cancel()

	client := lb.clientFor(address)

	// A backend counts as online only when both its queue and its
	// introspection surface answer; a render server that accepts queue
	// reads but cannot describe its nodes is not schedulable.
	queue, err := client.GetQueue(ctx)
	if err == nil {
		_, err = client.ObjectInfo(ctx, "")
	}
	now := time.Now()

	lb.mu.Lock()
	defer lb.mu.Unlock()

	snap, ok := lb.backends[address]
	if !ok {
		return // unregistered while probing
	}

	snap.LastCheck = &now
	if err != nil {
		snap.Online = false
		snap.LastError = err.Error()
		return
	}

	snap.Online = true
	snap.LastError = ""
	snap.Running = len(queue.Running)
	snap.Pending = len(queue.Pending)
	snap.TotalLoad = snap.Running + snap.Pending
}

// Pick refreshes all snapshots, then selects one online backend by
// strategy. Returns models.ErrNoBackendAvailable when the fleet has no
// online member.
func (lb *LoadBalancer) Pick(ctx context.Context, strategy string) (string, error) {
	lb.Refresh(ctx)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	var online []*HealthSnapshot
	for _, addr := range lb.order {
		if snap := lb.backends[addr]; snap != nil && snap.Online {
			online = append(online, snap)
		}
	}
	if len(online) == 0 {
		return "", models.ErrNoBackendAvailable
	}

	switch strategy {
	case StrategyRoundRobin:
		snap := online[lb.rrIndex%len(online)]
		lb.rrIndex++
		return snap.Address, nil

	case StrategyRandom:
		return online[lb.rng.Intn(len(online))].Address, nil

	default: // least_loaded, ties broken by registration order
		best := online[0]
		for _, snap := range online[1:] {
			if snap.TotalLoad < best.TotalLoad {
				best = snap
			}
		}
		return best.Address, nil
	}
}

// Snapshots returns a copy of every backend's last observed state, in
// registration order.
func (lb *LoadBalancer) Snapshots() []HealthSnapshot {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	out := make([]HealthSnapshot, 0, len(lb.order))
	for _, addr := range lb.order {
		if snap := lb.backends[addr]; snap != nil {
			out = append(out, *snap)
		}
	}
	return out
}

// Snapshot returns the last observed state of one backend.
func (lb *LoadBalancer) Snapshot(address string) (HealthSnapshot, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	snap, ok := lb.backends[address]
	if !ok {
		return HealthSnapshot{}, false
	}
	return *snap, true
}
