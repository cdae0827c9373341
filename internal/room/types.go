/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPreconditionFailed = errors.New("room: precondition failed")
	ErrEmptyQueue         = fmt.Errorf("%w: queue is empty", ErrPreconditionFailed)
	ErrNotInRoom          = errors.New("room: not in a room")
)

// Remote error messages with special handling.
const (
	MsgRoomNotFound = "room not found"
	MsgBadAdminID   = "bad admin id"
)

// Profile is how a peer presents itself.
type Profile struct {
	Handle      string `json:"handle,omitempty"`
	AvatarGlyph string `json:"avatarGlyph,omitempty"`
}

// IsZero reports whether p carries nothing.
func (p Profile) IsZero() bool {
	return strings.TrimSpace(p.Handle) == "" && strings.TrimSpace(p.AvatarGlyph) == ""
}

// mergeProfiles overlays the non-empty fields of next onto prev.
func mergeProfiles(prev, next Profile) Profile {
	out := prev
	if strings.TrimSpace(next.Handle) != "" {
		out.Handle = next.Handle
	}
	if strings.TrimSpace(next.AvatarGlyph) != "" {
		out.AvatarGlyph = next.AvatarGlyph
	}
	return out
}

// Peer is a room member as sent by the buoy.
type Peer struct {
	ID      string   `json:"id"`
	Profile *Profile `json:"profile,omitempty"`
}

// ChatMessage is one chat line.
type ChatMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Body string `json:"body"`
}

// NowPlaying names the track currently playing in a listed room.
type NowPlaying struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// Summary is one entry of the room list.
type Summary struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	PeerCount  int         `json:"peerCount"`
	NowPlaying *NowPlaying `json:"nowPlaying,omitempty"`
}

// Snapshot is the room as returned by joinRoom, restoreRoom and createRoom.
type Snapshot struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Peers       []Peer        `json:"peers"`
	DJs         []string      `json:"djs"`
	ActiveDJ    string        `json:"activeDj,omitempty"`
	SkipWarning bool          `json:"skipWarning,omitempty"`
	Chat        []ChatMessage `json:"chat,omitempty"`
}

// View is the reconciled room with derived lists, for display.
type View struct {
	Joined      bool          `json:"joined"`
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Self        *Peer         `json:"self,omitempty"`
	Peers       []Peer        `json:"peers"`
	DJs         []Peer        `json:"djs"`
	Audience    []Peer        `json:"audience"`
	ActiveDJ    *Peer         `json:"activeDj,omitempty"`
	SkipWarning bool          `json:"skipWarning"`
	Chat        []ChatMessage `json:"chat"`
}

// PersistError reports that a profile was accepted by the buoy but could not
// be saved locally. The profile change stands.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("profile saved on buoy but not locally: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
