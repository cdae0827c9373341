/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// Frame types on the wire. Each websocket text message carries one frame.
const (
	FrameHello  = "hello"
	FrameCall   = "call"
	FrameResult = "result"
	FramePush   = "push"
	FrameAck    = "ack"
)

// Frame is the JSON envelope exchanged with a buoy.
type Frame struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Ack    bool            `json:"ack,omitempty"`
}

// Push is a server initiated message.
type Push struct {
	ID       uint64
	Name     string
	Params   json.RawMessage
	WantsAck bool

	session *Session
	acked   atomic.Bool
}

// NewPush builds a push not bound to a live session. Ack on it is a no-op.
// Used when replaying pushes and in tests.
func NewPush(name string, params json.RawMessage) *Push {
	return &Push{Name: name, Params: params}
}

// Ack answers the push. Only the first call sends anything, and pushes that
// did not request an ack ignore it.
func (p *Push) Ack(ctx context.Context, result any) error {
	if !p.WantsAck || p.session == nil {
		return nil
	}
	if p.acked.Swap(true) {
		return nil
	}
	raw, err := marshalBody(result)
	if err != nil {
		return err
	}
	return p.session.write(ctx, Frame{Type: FrameAck, ID: p.ID, Result: raw})
}

var emptyObject = json.RawMessage(`{}`)

func marshalBody(v any) (json.RawMessage, error) {
	switch body := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(body) == 0 {
			return emptyObject, nil
		}
		return body, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
