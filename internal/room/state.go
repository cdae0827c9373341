/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

// state is the mirrored room. Transitions return a new value and never touch
// fields they do not own.
type state struct {
	id          string
	name        string
	peers       []string
	djs         []string
	activeDJ    string
	skipWarning bool
	chat        []ChatMessage
}

// withPeers replaces membership. Profiles are handled by the caller.
func (s state) withPeers(peers []Peer) state {
	ids := make([]string, 0, len(peers))
	seen := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	s.peers = ids
	return s
}

func (s state) withDJs(djs []string) state {
	s.djs = append([]string(nil), djs...)
	return s
}

func (s state) withActiveDJ(id string) state {
	s.activeDJ = id
	return s
}

func (s state) withSkipWarning(on bool) state {
	s.skipWarning = on
	return s
}

// withChat appends msg and drops the oldest entries beyond limit.
func (s state) withChat(msg ChatMessage, limit int) state {
	chat := make([]ChatMessage, 0, len(s.chat)+1)
	chat = append(chat, s.chat...)
	chat = append(chat, msg)
	if limit > 0 && len(chat) > limit {
		chat = chat[len(chat)-limit:]
	}
	s.chat = chat
	return s
}

// stage is the effective DJ list: pushed DJs that are members, without
// duplicates, capped at stageSize. The pushed list itself is kept as-is so a
// later setPeers can bring back DJs that arrived before their membership.
func (s state) stage(stageSize int) []string {
	members := make(map[string]struct{}, len(s.peers))
	for _, id := range s.peers {
		members[id] = struct{}{}
	}

	djs := make([]string, 0, len(s.djs))
	seen := make(map[string]struct{}, len(s.djs))
	for _, id := range s.djs {
		if _, ok := members[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		djs = append(djs, id)
		if stageSize > 0 && len(djs) == stageSize {
			break
		}
	}
	return djs
}

// active is the pushed active DJ when it is on the effective stage.
func (s state) active(stageSize int) string {
	if s.activeDJ == "" {
		return ""
	}
	for _, id := range s.stage(stageSize) {
		if id == s.activeDJ {
			return id
		}
	}
	return ""
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
