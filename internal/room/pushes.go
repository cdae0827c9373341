/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"context"

	"github.com/google/uuid"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/rpc"
)

type setPeersParams struct {
	Peers []Peer `json:"peers"`
}

type setDJsParams struct {
	DJs []string `json:"djs"`
}

type setActiveDJParams struct {
	ID string `json:"id"`
}

type setSkipWarningParams struct {
	Warning bool `json:"warning"`
}

type newChatMsgParams struct {
	Message ChatMessage `json:"message"`
}

type setPeerProfileParams struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`
}

type setRoomsParams struct {
	Rooms []Summary `json:"rooms"`
}

// Register installs the room push handlers on d.
func (r *Reconciler) Register(d *rpc.Dispatcher) error {
	regs := []error{
		rpc.Handle(d, rpc.PushSetPeers, func(_ context.Context, p setPeersParams) error {
			r.HandleSetPeers(p.Peers)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetDJs, func(_ context.Context, p setDJsParams) error {
			r.HandleSetDJs(p.DJs)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetActiveDJ, func(_ context.Context, p setActiveDJParams) error {
			r.HandleSetActiveDJ(p.ID)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetSkipWarning, func(_ context.Context, p setSkipWarningParams) error {
			r.HandleSetSkipWarning(p.Warning)
			return nil
		}),
		rpc.Handle(d, rpc.PushNewChatMsg, func(_ context.Context, p newChatMsgParams) error {
			r.HandleNewChatMsg(p.Message)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetPeerProfile, func(_ context.Context, p setPeerProfileParams) error {
			r.HandleSetPeerProfile(p.ID, p.Profile)
			return nil
		}),
		rpc.Handle(d, rpc.PushSetRooms, func(_ context.Context, p setRoomsParams) error {
			r.setRooms(p.Rooms)
			return nil
		}),
	}
	for _, err := range regs {
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleSetPeers replaces membership. Inline profiles are merged into the
// side map first; an omitted or empty profile never erases a known one.
func (r *Reconciler) HandleSetPeers(peers []Peer) {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		r.logger.Debug().Msg("setPeers outside a room ignored")
		return
	}
	r.mergePeerProfiles(peers)
	r.room = r.room.withPeers(peers)
	count := len(r.room.peers)
	r.mu.Unlock()

	r.publish(events.EventPeersChanged, events.Payload{"peers": count})
}

// HandleSetDJs replaces the stage.
func (r *Reconciler) HandleSetDJs(djs []string) {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	r.room = r.room.withDJs(djs)
	kept := r.room.stage(r.cfg.StageSize)
	r.mu.Unlock()

	if len(kept) != len(djs) {
		r.logger.Debug().Strs("pushed", djs).Strs("on_stage", kept).Msg("djs not yet members are hidden")
	}
	r.publish(events.EventDJsChanged, events.Payload{"djs": kept})
}

// HandleSetActiveDJ sets whose turn it is. An id not on stage reads as
// nobody until a later push puts it there.
func (r *Reconciler) HandleSetActiveDJ(id string) {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	r.room = r.room.withActiveDJ(id)
	active := r.room.active(r.cfg.StageSize)
	r.mu.Unlock()

	r.publish(events.EventActiveDJChanged, events.Payload{"active_dj": active})
}

// HandleSetSkipWarning toggles the skip warning banner.
func (r *Reconciler) HandleSetSkipWarning(on bool) {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	r.room = r.room.withSkipWarning(on)
	r.mu.Unlock()

	r.publish(events.EventSkipWarning, events.Payload{"warning": on})
}

// HandleNewChatMsg appends to the bounded chat log.
func (r *Reconciler) HandleNewChatMsg(msg ChatMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	r.room = r.room.withChat(msg, r.cfg.ChatLogSize)
	r.mu.Unlock()

	r.publish(events.EventChatMessage, events.Payload{"id": msg.ID, "from": msg.From, "body": msg.Body})
}

// HandleSetPeerProfile updates the side map whether or not id is a member.
func (r *Reconciler) HandleSetPeerProfile(id string, profile Profile) {
	if id == "" {
		return
	}
	r.mu.Lock()
	r.profiles[id] = mergeProfiles(r.profiles[id], profile)
	r.mu.Unlock()

	r.publish(events.EventProfileChanged, events.Payload{"peer_id": id, "handle": profile.Handle})
}
