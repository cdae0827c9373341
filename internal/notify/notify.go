/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify keeps the short-lived, user-visible notifications the client
// raises (failures, load timeouts) and clears each one after a fixed delay.
package notify

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/telemetry"
)

const (
	// DefaultTTL is how long a notification stays visible.
	DefaultTTL = 4 * time.Second

	FailureTitle = "yikes!"
	FailureIcon  = "🚨"
	DefaultIcon  = "✋"
)

// Notification is one visible message.
type Notification struct {
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Icon     string    `json:"icon"`
	RaisedAt time.Time `json:"raised_at"`
}

// Center holds the visible notifications, oldest first.
type Center struct {
	clock  clock.Clock
	bus    events.Publisher
	ttl    time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	active []Notification
}

// NewCenter creates a notification center. A nil clock uses wall time.
func NewCenter(clk clock.Clock, bus events.Publisher, logger zerolog.Logger) *Center {
	if clk == nil {
		clk = clock.New()
	}
	return &Center{
		clock:  clk,
		bus:    bus,
		ttl:    DefaultTTL,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify shows a notification and schedules its removal.
func (c *Center) Notify(title, message, icon string) {
	if icon == "" {
		icon = DefaultIcon
	}
	n := Notification{Title: title, Message: message, Icon: icon, RaisedAt: c.clock.Now()}

	c.mu.Lock()
	c.active = append(c.active, n)
	c.mu.Unlock()

	level := "info"
	if title == FailureTitle {
		level = "failure"
	}
	telemetry.NotificationsRaised.WithLabelValues(level).Inc()
	c.logger.Info().Str("title", title).Str("message", message).Msg("notification")
	if c.bus != nil {
		c.bus.Publish(events.EventNotification, events.Payload{
			"title":   title,
			"message": message,
			"icon":    icon,
		})
	}

	c.clock.AfterFunc(c.ttl, c.clearOldest)
}

// Failure raises the standard failure notification. Empty messages are
// dropped.
func (c *Center) Failure(message string) {
	if message == "" {
		return
	}
	c.Notify(FailureTitle, message, FailureIcon)
}

// Active returns a copy of the visible notifications.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.active...)
}

func (c *Center) clearOldest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) > 0 {
		c.active = c.active[1:]
	}
}
