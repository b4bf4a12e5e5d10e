// Package connectivity tracks online/offline state and produces a single
// conservative "can attempt sync" verdict. Platform online/offline events are
// unreliable on flaky networks, so in standalone mode the verdict also
// consults the link type and a short-lived failure memory to avoid sync
// storms against a network that will immediately fail again.
//
// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// LinkNone is the link type reported when the network layer explicitly knows
// there is no connection. Any other value (including empty) is inconclusive.
const LinkNone = "none"

// failureWindow is how long a recorded connectivity failure keeps the verdict
// offline in standalone mode.
const failureWindow = 30 * time.Second

// Capabilities is the platform capability report, computed once at startup
// and passed explicitly instead of re-querying ambient globals.
type Capabilities struct {
	Standalone bool   // running as an installed app
	LinkType   string // coarse network link type; "" when unknown
}

// StateChange is the typed message delivered to subscribers whenever the
// verdict flips.
type StateChange struct {
	Online bool
	At     time.Time
}

// Monitor owns the connectivity verdict. All methods are safe for concurrent
// use.
type Monitor struct {
	logger *slog.Logger
	clock  func() time.Time

	mu          sync.Mutex
	caps        Capabilities
	online      bool // last platform signal
	lastFailure time.Time
	subs        map[int]chan StateChange
	nextSub     int
}

// NewMonitor creates a monitor. The platform signal starts online; callers
// feed transitions through SetOnline.
func NewMonitor(caps Capabilities, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		clock:  time.Now,
		caps:   caps,
		online: true,
		subs:   make(map[int]chan StateChange),
	}
}

// IsOnline returns the current verdict. It is false when the platform signal
// says offline, and additionally (in standalone mode) when the link type
// explicitly reports none or a failure was recorded within the last 30
// seconds.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verdictLocked()
}

func (m *Monitor) verdictLocked() bool {
	if !m.online {
		return false
	}
	if !m.caps.Standalone {
		return true
	}
	if m.caps.LinkType == LinkNone {
		return false
	}
	if !m.lastFailure.IsZero() && m.clock().Sub(m.lastFailure) < failureWindow {
		return false
	}
	return true
}

// SetOnline feeds a platform online/offline transition into the monitor.
func (m *Monitor) SetOnline(online bool) {
	m.update(func() {
		m.online = online
		if online {
			// A fresh platform online signal does not clear failure memory;
			// only a successful request does.
			m.logger.Debug("platform signal", "online", true)
		} else {
			m.logger.Debug("platform signal", "online", false)
		}
	})
}

// SetLinkType updates the reported network link type.
func (m *Monitor) SetLinkType(linkType string) {
	m.update(func() { m.caps.LinkType = linkType })
}

// RecordFailure notes a connectivity failure at the current time.
func (m *Monitor) RecordFailure() {
	m.update(func() { m.lastFailure = m.clock() })
}

// ClearFailure erases the failure memory after a successful round trip.
func (m *Monitor) ClearFailure() {
	m.update(func() { m.lastFailure = time.Time{} })
}

// update applies a mutation and notifies subscribers if the verdict flipped.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	before := m.verdictLocked()
	fn()
	after := m.verdictLocked()
	var subs []chan StateChange
	var change StateChange
	if before != after {
		change = StateChange{Online: after, At: m.clock()}
		for _, ch := range m.subs {
			subs = append(subs, ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			// Subscriber is not keeping up; it will re-read IsOnline.
		}
	}
}

// Subscribe registers for verdict-change notifications. The returned cancel
// function releases the subscription.
func (m *Monitor) Subscribe() (<-chan StateChange, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan StateChange, 4)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
