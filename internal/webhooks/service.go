/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks forwards selected client events to HTTP endpoints, for
// chat bridges and now-playing displays.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/version"
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Grooveboat-Event"
	HeaderDelivery  = "X-Grooveboat-Delivery"
	HeaderTimestamp = "X-Grooveboat-Timestamp"
	HeaderSignature = "X-Grooveboat-Signature"
)

// DefaultEvents are forwarded when Config.Events is empty.
var DefaultEvents = []events.EventType{
	events.EventTrackStarted,
	events.EventChatMessage,
	events.EventNotification,
}

// Payload is the body posted to each endpoint.
type Payload struct {
	Event     events.EventType `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	RoomID    string           `json:"room_id,omitempty"`
	Data      events.Payload   `json:"data"`
}

// Config selects endpoints and events.
type Config struct {
	URLs       []string
	Secret     string
	Events     []events.EventType
	Timeout    time.Duration
	MaxElapsed time.Duration // retry budget per delivery
}

// Subscriber is the bus surface the forwarder needs.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// RoomID names the current room for payloads.
type RoomID interface {
	RoomID() string
}

// Service handles webhook delivery.
type Service struct {
	cfg    Config
	bus    Subscriber
	room   RoomID
	logger zerolog.Logger
	client *http.Client
	wg     sync.WaitGroup
}

// NewService creates a webhook forwarder.
func NewService(cfg Config, bus Subscriber, room RoomID, logger zerolog.Logger) *Service {
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &Service{
		cfg:    cfg,
		bus:    bus,
		room:   room,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start forwards events until ctx ends, then waits for in-flight deliveries.
func (s *Service) Start(ctx context.Context) {
	if len(s.cfg.URLs) == 0 {
		return
	}

	type sub struct {
		eventType events.EventType
		ch        events.Subscriber
	}
	merged := make(chan Payload, 64)
	subs := make([]sub, 0, len(s.cfg.Events))
	var fan sync.WaitGroup
	for _, et := range s.cfg.Events {
		sb := sub{eventType: et, ch: s.bus.Subscribe(et)}
		subs = append(subs, sb)
		fan.Add(1)
		go func() {
			defer fan.Done()
			for data := range sb.ch {
				select {
				case merged <- s.payload(sb.eventType, data):
				default:
					s.logger.Warn().Str("event", string(sb.eventType)).Msg("webhook queue full, dropping event")
				}
			}
		}()
	}

	s.logger.Info().Int("endpoints", len(s.cfg.URLs)).Msg("webhook forwarding started")
	defer func() {
		for _, sb := range subs {
			s.bus.Unsubscribe(sb.eventType, sb.ch)
		}
		fan.Wait()
		s.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-merged:
			for _, url := range s.cfg.URLs {
				s.wg.Add(1)
				go func(url string) {
					defer s.wg.Done()
					if err := s.Deliver(ctx, url, p); err != nil {
						s.logger.Warn().Err(err).Str("url", url).Str("event", string(p.Event)).Msg("webhook delivery failed")
					}
				}(url)
			}
		}
	}
}

func (s *Service) payload(eventType events.EventType, data events.Payload) Payload {
	p := Payload{Event: eventType, Timestamp: time.Now().UTC(), Data: data}
	if s.room != nil {
		p.RoomID = s.room.RoomID()
	}
	return p
}

// Deliver posts p to url, retrying server errors and transport failures.
// Client errors are not retried.
func (s *Service) Deliver(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	delivery := uuid.NewString()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		req.Header.Set(HeaderEvent, string(p.Event))
		req.Header.Set(HeaderDelivery, delivery)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
		if s.cfg.Secret != "" {
			req.Header.Set(HeaderSignature, Sign(body, s.cfg.Secret))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			s.logger.Debug().Str("url", url).Str("event", string(p.Event)).Int("status", resp.StatusCode).Msg("webhook delivered")
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = s.cfg.MaxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Sign returns the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
