/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/telemetry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectPrefix is prepended to the event type to build the NATS subject.
const SubjectPrefix = "grooveboat.events."

// NATSBus delivers events to the in-process bus and mirrors them to NATS so
// an external UI or recorder can follow the client. Local delivery never
// depends on the NATS connection being healthy.
type NATSBus struct {
	logger zerolog.Logger
	local  *events.Bus
	conn   *nats.Conn
	nodeID string
	seq    atomic.Uint64
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS and wraps local. If the connection fails the
// bus still delivers locally and the error is returned alongside it so the
// caller can decide whether that is fatal.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) (*NATSBus, error) {
	if local == nil {
		local = events.NewBus()
	}
	nb := &NATSBus{
		logger: logger.With().Str("component", "eventbus").Logger(),
		local:  local,
		nodeID: generateNodeID(),
	}

	opts := []nats.Option{
		nats.Name("grooveboat-" + nb.nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				nb.logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("nats unavailable, events stay local")
		return nb, fmt.Errorf("connect nats: %w", err)
	}
	nb.conn = conn
	nb.logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nb.nodeID).Msg("mirroring events to nats")
	return nb, nil
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally, then mirrors to grooveboat.events.<type>.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}
	data, err := marshalNATSMessage(eventType, payload, nb.nodeID, nb.seq.Add(1))
	if err != nil {
		telemetry.EventMirrorPublished.WithLabelValues("encode_error").Inc()
		nb.logger.Debug().Err(err).Str("event", string(eventType)).Msg("skip mirroring unencodable event")
		return
	}
	if err := nb.conn.Publish(Subject(eventType), data); err != nil {
		telemetry.EventMirrorPublished.WithLabelValues("error").Inc()
		nb.logger.Debug().Err(err).Str("event", string(eventType)).Msg("mirror publish failed")
		return
	}
	telemetry.EventMirrorPublished.WithLabelValues("ok").Inc()
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	return nb.conn.Drain()
}

// Subject returns the NATS subject for eventType.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// natsMessage is the envelope published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string, seq uint64) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: fmt.Sprintf("%s-%d", nodeID, seq),
	}
	return json.Marshal(msg)
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "grooveboat"
	}
	return host + "-" + uuid.NewString()[:8]
}
