// Package connectivity tracks whether the server is reachable and fires a
// callback once per offline to online transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "booth_pos_kiosk_online",
	Help: "1 while the order server is believed reachable",
})

// Probe checks the server, typically GET /health.
type Probe func(ctx context.Context) error

type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger

	mu          sync.Mutex
	online      bool
	onReconnect func()

	callbacks sync.WaitGroup
}

// New starts in the online state. Per-probe timeout is half the interval.
func New(probe Probe, interval time.Duration, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	onlineGauge.Set(1)
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  interval / 2,
		log:      log.WithField("component", "connectivity"),
		online:   true,
	}
}

// OnReconnect registers the callback run after each offline to online
// transition. Each run gets its own goroutine so probing continues while it
// works; two quick reconnects may overlap.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	m.onReconnect = fn
	m.mu.Unlock()
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a raw connectivity signal. Repeated signals are harmless.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	reconnected := online && !m.online
	changed := online != m.online
	m.online = online
	fn := m.onReconnect
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		onlineGauge.Set(1)
		m.log.Info("server reachable again")
	} else {
		onlineGauge.Set(0)
		m.log.Warn("server unreachable, working offline")
	}
	if reconnected && fn != nil {
		m.callbacks.Add(1)
		go func() {
			defer m.callbacks.Done()
			fn()
		}()
	}
}

// Wait blocks until every reconnect callback started so far has returned.
func (m *Monitor) Wait() {
	m.callbacks.Wait()
}

func (m *Monitor) MarkOffline() {
	m.Set(false)
}

// Run probes immediately and then every interval until ctx is done. It
// returns once in-flight reconnect callbacks finish.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.Wait()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := m.probe(pctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.WithError(err).Debug("health probe failed")
	}
	m.Set(err == nil)
}
