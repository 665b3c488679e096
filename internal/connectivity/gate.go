package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober is the lightweight health call the gate uses for active probing.
// The remote client satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

// Gate reports whether the device has network reachability and whether the
// service of record is currently healthy. The two flags are independent: a
// reachable but erroring service is "down" for sync purposes while still
// "reachable" for generic UI messaging. The sync engine must not drain while
// either flag is false.
type Gate struct {
	mu      sync.RWMutex
	online  bool
	healthy bool
	onOpen  func()

	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	probeNow chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewGate creates a gate. Reachability starts optimistic (online) and health
// starts pessimistic until the first probe succeeds.
func NewGate(prober Prober, interval time.Duration, logger *slog.Logger) *Gate {
	if interval == 0 {
		interval = 12 * time.Second
	}
	return &Gate{
		online:   true,
		prober:   prober,
		interval: interval,
		logger:   logger,
		probeNow: make(chan struct{}, 1),
	}
}

// OnOpen registers the callback fired whenever the gate transitions from
// closed to open. Register before Start.
func (g *Gate) OnOpen(fn func()) {
	g.mu.Lock()
	g.onOpen = fn
	g.mu.Unlock()
}

// Online reports device network reachability.
func (g *Gate) Online() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.online
}

// Healthy reports whether the service of record answered its last probe.
func (g *Gate) Healthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.healthy
}

// Open reports whether a drain pass may run.
func (g *Gate) Open() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.online && g.healthy
}

// SetOnline records a passive network state change. Coming back online
// schedules an immediate probe instead of waiting out the ticker.
func (g *Gate) SetOnline(online bool) {
	g.mu.Lock()
	wasOnline := g.online
	g.online = online
	if !online {
		// Reachability loss implies nothing about service health, but the
		// gate is closed either way; drop health so reopening re-probes.
		g.healthy = false
	}
	g.mu.Unlock()

	if online && !wasOnline {
		select {
		case g.probeNow <- struct{}{}:
		default:
		}
	}
}

// SetHealthy records a probe result and fires the open transition callback.
func (g *Gate) SetHealthy(healthy bool) {
	g.mu.Lock()
	wasOpen := g.online && g.healthy
	g.healthy = healthy
	open := g.online && g.healthy
	fn := g.onOpen
	g.mu.Unlock()

	if !wasOpen && open && fn != nil {
		fn()
	}
}

// Start begins the active probe loop. Probing only happens while online.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.mu.Unlock()

	go func() {
		defer close(g.done)
		g.probe(ctx)

		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.probe(ctx)
			case <-g.probeNow:
				g.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop.
func (g *Gate) Stop() {
	g.mu.RLock()
	cancel := g.cancel
	done := g.done
	g.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (g *Gate) probe(ctx context.Context) {
	if !g.Online() {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := g.prober.Health(probeCtx)
	if err != nil {
		if g.Healthy() {
			g.logger.Warn("service health probe failed", "error", err)
		}
		g.SetHealthy(false)
		return
	}
	g.SetHealthy(true)
}
