// Package procmon watches the local process table for configured command
// patterns and pages when a previously seen pattern stays gone past an
// idle threshold.
package procmon

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fillwatch/fillwatch/internal/metrics"
)

// AlertSink is the outbound paging contract the monitor needs.
type AlertSink interface {
	Trigger(ctx context.Context, dedupKey, summary string, details any) error
	Resolve(ctx context.Context, dedupKey string) error
}

type Options struct {
	Patterns      []string
	CheckInterval time.Duration
	IdleThreshold time.Duration

	// SinkTimeout bounds each outbound sink call so a hung alert
	// endpoint cannot stall the sampling loop.
	SinkTimeout time.Duration
}

type Monitor struct {
	snap    Snapshotter
	sink    AlertSink
	metrics *metrics.Metrics
	opts    Options
	groups  []*group
}

// group tracks the presence debounce for one pattern. All timestamps
// come from the sample that observed them, so the machine can be driven
// with synthetic clocks.
type group struct {
	pattern        string
	state          Presence
	lastSeenAt     time.Time
	drainStartedAt time.Time
	incidentOpen   bool
}

// action is what one observation asks the monitor to do.
type action int

const (
	actNone action = iota
	actTrigger
	actResolve
)

func New(snap Snapshotter, sink AlertSink, m *metrics.Metrics, opts Options) *Monitor {
	groups := make([]*group, 0, len(opts.Patterns))
	for _, p := range opts.Patterns {
		groups = append(groups, &group{pattern: p})
	}
	return &Monitor{
		snap:    snap,
		sink:    sink,
		metrics: m,
		opts:    opts,
		groups:  groups,
	}
}

// Run samples the process table until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	patterns := make([]string, len(m.groups))
	for i, g := range m.groups {
		patterns[i] = g.pattern
	}
	log.Printf("[procmon] started: patterns=%q interval=%s idle_threshold=%s",
		patterns, m.opts.CheckInterval, m.opts.IdleThreshold)

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	// Initial sample so a running process is marked present immediately.
	m.sample(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Println("[procmon] stopped")
			return ctx.Err()
		case <-ticker.C:
			m.sample(ctx, time.Now())
		}
	}
}

// sample takes one snapshot and advances every group against it. The
// pass is atomic: every pattern is judged against the same table.
func (m *Monitor) sample(ctx context.Context, now time.Time) {
	procs, err := m.snap.Snapshot(ctx)
	if err != nil {
		// A failed sample says nothing about presence. State advances
		// only on evidence.
		log.Printf("[procmon] snapshot error: %v", err)
		m.metrics.SnapshotErrors.Inc()
		return
	}
	m.metrics.MonitorSamples.Inc()

	for _, g := range m.groups {
		before := g.state
		act := g.observe(now, matchAny(procs, g.pattern), m.opts.IdleThreshold)
		if g.state != before {
			log.Printf("[procmon] %q: %s → %s", g.pattern, before, g.state)
		}

		switch act {
		case actTrigger:
			m.trigger(ctx, g, now)
		case actResolve:
			m.resolve(ctx, g)
		}
	}
}

// observe advances the state machine for one sample. Sink outcomes never
// roll a transition back, so the returned action is already committed.
func (g *group) observe(now time.Time, matched bool, idleThreshold time.Duration) action {
	if matched {
		g.lastSeenAt = now
		switch g.state {
		case Absent:
			g.state = Present
		case Draining:
			g.state = Present
			if g.incidentOpen {
				g.incidentOpen = false
				return actResolve
			}
		}
		return actNone
	}

	switch g.state {
	case Present:
		g.state = Draining
		g.drainStartedAt = now
	case Draining:
		// One trigger per drain episode. The group stays Draining so a
		// reappearance can resolve the open incident.
		if !g.incidentOpen && now.Sub(g.drainStartedAt) >= idleThreshold {
			g.incidentOpen = true
			return actTrigger
		}
	}
	return actNone
}

func (m *Monitor) trigger(ctx context.Context, g *group, now time.Time) {
	key := dedupKey(g.pattern)
	summary := fmt.Sprintf("No process matching %q for %s", g.pattern, m.opts.IdleThreshold)
	details := map[string]any{
		"pattern":            g.pattern,
		"idle_threshold_sec": int(m.opts.IdleThreshold.Seconds()),
		"last_seen_at":       g.lastSeenAt.Format(time.RFC3339),
		"observed_at":        now.Format(time.RFC3339),
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.SinkTimeout)
	err := m.sink.Trigger(cctx, key, summary, details)
	cancel()
	if err != nil {
		log.Printf("[procmon] trigger failed for %q: %v", g.pattern, err)
		m.metrics.AlertFailures.Inc()
		return
	}
	log.Printf("[procmon] triggered %s (absent since %s)", key, g.drainStartedAt.Format("15:04:05"))
	m.metrics.AlertsTriggered.Inc()
}

func (m *Monitor) resolve(ctx context.Context, g *group) {
	key := dedupKey(g.pattern)

	cctx, cancel := context.WithTimeout(ctx, m.opts.SinkTimeout)
	err := m.sink.Resolve(cctx, key)
	cancel()
	if err != nil {
		log.Printf("[procmon] resolve failed for %q: %v", g.pattern, err)
		m.metrics.AlertFailures.Inc()
		return
	}
	log.Printf("[procmon] resolved %s (process back)", key)
	m.metrics.AlertsResolved.Inc()
}

// dedupKey is stable per pattern so a later resolve closes the same
// incident a trigger opened.
func dedupKey(pattern string) string {
	return "procmon:" + pattern
}

// matchAny reports whether any command line contains pattern as a plain
// case-sensitive substring. Patterns are taken verbatim, not as regexps.
func matchAny(procs []Process, pattern string) bool {
	for _, p := range procs {
		if strings.Contains(p.Cmdline, pattern) {
			return true
		}
	}
	return false
}
