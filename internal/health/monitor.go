// Package health runs the recurring liveness probe over connected venues.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/oms/internal/venue"
)

const (
	// DefaultInterval is how often connected venues are probed.
	DefaultInterval = 60 * time.Second

	// DefaultProbeTimeout bounds a single probe call.
	DefaultProbeTimeout = 10 * time.Second

	// maxFailures is the consecutive-failure threshold that demotes a venue
	// to disconnected.
	maxFailures = 3

	// DemotionReason tags the disconnection event emitted on demotion.
	DemotionReason = "heartbeat failures"
)

// Monitor probes every connected venue on a fixed interval using a
// lightweight account fetch. Successes reset the venue's failure streak;
// three consecutive failures demote it to disconnected, emitting the
// disconnection event exactly once per transition. The loop never panics out:
// a probe failure on one venue does not stop probing of the others.
type Monitor struct {
	venues       *venue.Manager
	interval     time.Duration
	probeTimeout time.Duration
	log          *logrus.Entry

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config overrides the monitor's timing. Zero values select the defaults.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// NewMonitor creates a health monitor over the registry.
func NewMonitor(venues *venue.Manager, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		venues:       venues,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		log:          logrus.WithField("component", "health-monitor"),
		stop:         make(chan struct{}),
	}
}

// Start launches the probe loop in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.log.WithField("interval", m.interval).Info("health monitor started")
}

// Stop halts the loop and waits for any in-flight check to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.CheckOnce(context.Background())
		}
	}
}

// CheckOnce probes every currently connected venue, concurrently. Exposed so
// callers (and tests) can force an immediate sweep.
func (m *Monitor) CheckOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, conn := range m.venues.Connected() {
		wg.Add(1)
		go func(c *venue.Connection) {
			defer wg.Done()
			m.probe(ctx, c)
		}(conn)
	}
	wg.Wait()
}

// probe performs one liveness check. A panic never escapes into the loop, and
// it still counts against the venue's failure streak.
func (m *Monitor) probe(ctx context.Context, conn *venue.Connection) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{"venue": conn.ID, "panic": r}).
				Error("probe panicked")
			m.recordFailure(conn)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if _, err := conn.Adapter.GetAccount(pctx); err != nil {
		m.log.WithError(err).WithField("venue", conn.ID).Warn("heartbeat probe failed")
		m.recordFailure(conn)
		return
	}

	conn.Heartbeat()
}

// recordFailure bumps the venue's streak and demotes it at the threshold.
func (m *Monitor) recordFailure(conn *venue.Connection) {
	failures := conn.RecordFailure()
	m.log.WithFields(logrus.Fields{
		"venue":    conn.ID,
		"failures": failures,
	}).Debug("heartbeat failure recorded")

	if failures >= maxFailures {
		m.venues.Demote(conn.ID, DemotionReason)
	}
}
