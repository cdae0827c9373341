/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

// The views below are computed from state on every read.

// peerLocked pairs id with its known profile. Caller holds mu.
func (r *Reconciler) peerLocked(id string) Peer {
	p := Peer{ID: id}
	if prof, ok := r.profiles[id]; ok {
		p.Profile = &prof
	}
	return p
}

// DJsWithProfiles lists the stage in order.
func (r *Reconciler) DJsWithProfiles() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stage := r.room.stage(r.cfg.StageSize)
	out := make([]Peer, 0, len(stage))
	for _, id := range stage {
		out = append(out, r.peerLocked(id))
	}
	return out
}

// Audience lists members not on stage, in membership order.
func (r *Reconciler) Audience() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audienceLocked()
}

func (r *Reconciler) audienceLocked() []Peer {
	stage := r.room.stage(r.cfg.StageSize)
	out := make([]Peer, 0, len(r.room.peers))
	for _, id := range r.room.peers {
		if contains(stage, id) {
			continue
		}
		out = append(out, r.peerLocked(id))
	}
	return out
}

// Peers lists all members with profiles.
func (r *Reconciler) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.room.peers))
	for _, id := range r.room.peers {
		out = append(out, r.peerLocked(id))
	}
	return out
}

// CurrentPeer returns the local user with its latest profile.
func (r *Reconciler) CurrentPeer() (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selfID == "" {
		return Peer{}, false
	}
	return r.peerLocked(r.selfID), true
}

// ActiveDJ returns whose turn it is, empty when nobody's.
func (r *Reconciler) ActiveDJ() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.room.active(r.cfg.StageSize)
}

// IsSelfActiveDJ reports whether the local user is playing.
func (r *Reconciler) IsSelfActiveDJ() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfID != "" && r.room.active(r.cfg.StageSize) == r.selfID
}

// Chat returns the retained chat log, oldest first.
func (r *Reconciler) Chat() []ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ChatMessage(nil), r.room.chat...)
}

// Rooms returns the last fetched or pushed room list.
func (r *Reconciler) Rooms() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Summary(nil), r.rooms...)
}

// View returns the whole reconciled room.
func (r *Reconciler) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage := r.room.stage(r.cfg.StageSize)
	v := View{
		Joined:      r.joined,
		ID:          r.room.id,
		Name:        r.room.name,
		Peers:       make([]Peer, 0, len(r.room.peers)),
		DJs:         make([]Peer, 0, len(stage)),
		SkipWarning: r.room.skipWarning,
		Chat:        append([]ChatMessage{}, r.room.chat...),
	}
	for _, id := range r.room.peers {
		v.Peers = append(v.Peers, r.peerLocked(id))
	}
	for _, id := range stage {
		v.DJs = append(v.DJs, r.peerLocked(id))
	}
	v.Audience = r.audienceLocked()
	if id := r.room.active(r.cfg.StageSize); id != "" {
		active := r.peerLocked(id)
		v.ActiveDJ = &active
	}
	if r.selfID != "" {
		self := r.peerLocked(r.selfID)
		v.Self = &self
	}
	return v
}
