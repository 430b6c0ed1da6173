// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/studypath/relay/internal/metrics"
)

// Alert describes one crossing of a load threshold.
type Alert struct {
	Level       string
	Connections int
	Limit       int
}

// Message renders the human-readable text carried at the envelope top level.
func (a Alert) Message() string {
	return fmt.Sprintf("connection load %s: %d of %d connections in use", a.Level, a.Connections, a.Limit)
}

// LoadMonitor guards the server against unbounded connection growth and
// abusive per-connection traffic. Thresholds and rates come from
// configuration, never hardcoded policy.
//
// Threshold alerts are edge-triggered: an alert fires once when the
// count reaches the threshold and is re-armed only after the count
// drops back below it, so a steady count does not re-alert on every
// subsequent connect.
type LoadMonitor struct {
	maxConnections int
	warnThreshold  int
	messageRate    rate.Limit
	messageBurst   int

	mu            sync.Mutex
	warnArmed     bool
	criticalArmed bool
}

// NewLoadMonitor creates a monitor for the given thresholds and
// per-connection message rate.
func NewLoadMonitor(maxConnections, warnThreshold int, messageRate float64, messageBurst int) *LoadMonitor {
	return &LoadMonitor{
		maxConnections: maxConnections,
		warnThreshold:  warnThreshold,
		messageRate:    rate.Limit(messageRate),
		messageBurst:   messageBurst,
		warnArmed:      true,
		criticalArmed:  true,
	}
}

// NewLimiter returns a fresh per-connection message-rate limiter.
// A non-positive rate disables limiting.
func (m *LoadMonitor) NewLimiter() *rate.Limiter {
	if m.messageRate <= 0 {
		return nil
	}
	burst := m.messageBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(m.messageRate, burst)
}

// OnCountChange observes the current connection count and returns the
// alerts to broadcast, if any. Crossing the critical threshold while the
// warning is also armed produces only the critical alert; the warning
// stays disarmed until the count drops below the warning threshold.
func (m *LoadMonitor) OnCountChange(count int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var alerts []Alert

	if count >= m.maxConnections {
		if m.criticalArmed {
			m.criticalArmed = false
			m.warnArmed = false
			alerts = append(alerts, Alert{
				Level:       AlertLevelCritical,
				Connections: count,
				Limit:       m.maxConnections,
			})
			metrics.SystemAlerts.WithLabelValues(AlertLevelCritical).Inc()
		}
		return alerts
	}
	m.criticalArmed = true

	if count >= m.warnThreshold {
		if m.warnArmed {
			m.warnArmed = false
			alerts = append(alerts, Alert{
				Level:       AlertLevelWarning,
				Connections: count,
				Limit:       m.maxConnections,
			})
			metrics.SystemAlerts.WithLabelValues(AlertLevelWarning).Inc()
		}
		return alerts
	}
	m.warnArmed = true

	return alerts
}
