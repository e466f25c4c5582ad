package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
	"github.com/abelbrown/sightline/internal/service"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	tierStyles = map[model.Tier]lipgloss.Style{
		model.TierCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		model.TierHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		model.TierMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("227")),
		model.TierLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

// renderTier colors a recommendation tier.
func renderTier(t model.Tier) string {
	s, ok := tierStyles[t]
	if !ok {
		return string(t)
	}
	return s.Render(fmt.Sprintf("%-8s", t))
}

// session is an open service with its event log.
type session struct {
	svc     *service.Service
	events  *otel.Logger
	metrics *metrics.Metrics
	ring    *otel.RingBuffer // recent events, long-running sessions only
	logFile *os.File
}

// openSession opens the service described by the loaded config. Events go to
// cfg.Log.Events when set.
func openSession(withMetrics bool) (*session, error) {
	return newSession(withMetrics, false)
}

// openLiveSession is openSession for the scheduler: events are also kept in
// a ring buffer, even when the event log is disabled, so status can be reported.
func openLiveSession(withMetrics bool) (*session, error) {
	return newSession(withMetrics, true)
}

func newSession(withMetrics, withRing bool) (*session, error) {
	s := &session{}
	if path := cfg.Log.Events; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		s.logFile = f
		s.events = otel.NewLogger(f)
	}
	if withRing {
		if s.events == nil {
			s.events = otel.NewNullLogger()
		}
		s.ring = otel.NewRingBuffer(otel.DefaultRingSize)
		s.events.SetRingBuffer(s.ring)
	}
	if withMetrics {
		s.metrics = metrics.New(nil)
	}
	if cfg.DB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB), 0755); err != nil {
			s.closeEvents()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	svc, err := service.Open(cfg, service.Options{Events: s.events, Metrics: s.metrics})
	if err != nil {
		s.closeEvents()
		return nil, err
	}
	s.svc = svc
	return s, nil
}

func (s *session) closeEvents() {
	if s.events != nil {
		s.events.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

// Close flushes events and closes the store.
func (s *session) Close() {
	if s.svc != nil {
		s.svc.Close()
	}
	s.closeEvents()
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
