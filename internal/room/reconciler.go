/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package room mirrors the joined room from buoy pushes and issues the room
// intents (join, DJ turns, votes, chat, profile). The buoy owns room truth;
// local state only changes on a successful call or a push.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/docstore"
	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/rpc"
)

// ProfileDocID stores the user's own profile across sessions.
const ProfileDocID = "profile"

// Sender issues calls to the buoy. *rpc.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, name string, params any, out any) error
}

// QueueLength reports how many tracks the user has queued.
type QueueLength interface {
	QueueLen(ctx context.Context) (int, error)
}

// Config bounds the mirrored room.
type Config struct {
	StageSize   int
	ChatLogSize int
}

// Reconciler is the single owner of the mirrored room.
type Reconciler struct {
	sender Sender
	queue  QueueLength
	store  docstore.Store
	bus    events.Publisher
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	joined   bool
	room     state
	profiles map[string]Profile
	selfID   string
	rooms    []Summary
}

// New creates a reconciler. bus may be nil.
func New(sender Sender, queue QueueLength, store docstore.Store, bus events.Publisher, cfg Config, logger zerolog.Logger) *Reconciler {
	if cfg.StageSize <= 0 {
		cfg.StageSize = 5
	}
	if cfg.ChatLogSize <= 0 {
		cfg.ChatLogSize = 30
	}
	return &Reconciler{
		sender:   sender,
		queue:    queue,
		store:    store,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "room").Logger(),
		profiles: make(map[string]Profile),
	}
}

// SetSelf records the peer id the buoy assigned on authenticate.
func (r *Reconciler) SetSelf(peerID string) {
	r.mu.Lock()
	r.selfID = peerID
	r.mu.Unlock()
}

// SelfID returns the local peer id, empty before authentication.
func (r *Reconciler) SelfID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfID
}

// RoomID returns the joined room id, empty when not in a room.
func (r *Reconciler) RoomID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.joined {
		return ""
	}
	return r.room.id
}

// FetchRooms lists the buoy's rooms.
func (r *Reconciler) FetchRooms(ctx context.Context) ([]Summary, error) {
	var rooms []Summary
	if err := r.sender.Send(ctx, "fetchRooms", struct{}{}, &rooms); err != nil {
		return nil, err
	}
	r.setRooms(rooms)
	return rooms, nil
}

type createRoomParams struct {
	Name string `json:"name"`
}

type createRoomResult struct {
	Room       Snapshot `json:"room"`
	AdminToken string   `json:"adminToken"`
}

type adminDoc struct {
	AdminToken string `json:"adminToken"`
}

func adminDocID(roomID string) string {
	return "rooms/" + roomID + "/admin"
}

// CreateRoom creates a room and keeps its admin token for later restores.
// It does not join the room.
func (r *Reconciler) CreateRoom(ctx context.Context, name string) (Snapshot, error) {
	var res createRoomResult
	if err := r.sender.Send(ctx, "createRoom", createRoomParams{Name: name}, &res); err != nil {
		return Snapshot{}, err
	}
	if res.Room.ID == "" {
		return Snapshot{}, fmt.Errorf("createRoom: response has no room id")
	}
	if res.AdminToken != "" {
		if err := r.store.Put(ctx, adminDocID(res.Room.ID), adminDoc{AdminToken: res.AdminToken}); err != nil {
			// The room exists on the buoy either way.
			r.logger.Warn().Err(err).Str("room_id", res.Room.ID).Msg("could not store admin token")
		}
	}
	r.logger.Info().Str("room_id", res.Room.ID).Str("name", res.Room.Name).Msg("room created")
	return res.Room, nil
}

type joinRoomParams struct {
	ID string `json:"id"`
}

type restoreRoomParams struct {
	AdminToken string `json:"adminToken"`
}

// JoinRoom joins room id. When the buoy has forgotten the room and an admin
// token for it is stored, the room is restored and the join retried once.
func (r *Reconciler) JoinRoom(ctx context.Context, id string) (Snapshot, error) {
	snap, err := r.joinOnce(ctx, id)
	if err == nil {
		r.applySnapshot(snap)
		return snap, nil
	}
	if !rpc.IsRemote(err, MsgRoomNotFound) {
		return Snapshot{}, err
	}

	var admin adminDoc
	if lookupErr := r.store.Get(ctx, adminDocID(id), &admin); lookupErr != nil || admin.AdminToken == "" {
		if lookupErr != nil && !errors.Is(lookupErr, docstore.ErrNotFound) {
			r.logger.Warn().Err(lookupErr).Str("room_id", id).Msg("admin token lookup failed")
		}
		return Snapshot{}, err
	}

	r.logger.Info().Str("room_id", id).Msg("room not found, restoring with stored admin token")
	var restored Snapshot
	if restoreErr := r.sender.Send(ctx, "restoreRoom", restoreRoomParams{AdminToken: admin.AdminToken}, &restored); restoreErr != nil {
		if rpc.IsRemote(restoreErr, MsgBadAdminID) {
			if rmErr := r.store.Remove(ctx, adminDocID(id)); rmErr != nil {
				r.logger.Warn().Err(rmErr).Str("room_id", id).Msg("could not drop rejected admin token")
			}
		}
		return Snapshot{}, fmt.Errorf("restore room %s: %w", id, restoreErr)
	}

	snap, err = r.joinOnce(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("join restored room %s: %w", id, err)
	}
	r.applySnapshot(snap)
	return snap, nil
}

func (r *Reconciler) joinOnce(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	if err := r.sender.Send(ctx, "joinRoom", joinRoomParams{ID: id}, &snap); err != nil {
		return Snapshot{}, err
	}
	if snap.ID == "" {
		snap.ID = id
	}
	return snap, nil
}

// BecomeDJ asks to join the stage. It fails locally with ErrEmptyQueue when
// there is nothing to play.
func (r *Reconciler) BecomeDJ(ctx context.Context) error {
	n, err := r.queue.QueueLen(ctx)
	if err != nil {
		return fmt.Errorf("check queue: %w", err)
	}
	if n == 0 {
		return ErrEmptyQueue
	}
	return r.roomCall(ctx, "becomeDj", struct{}{})
}

// StepDown leaves the stage.
func (r *Reconciler) StepDown(ctx context.Context) error {
	return r.roomCall(ctx, "stepDown", struct{}{})
}

// SkipTurn gives up the current turn.
func (r *Reconciler) SkipTurn(ctx context.Context) error {
	return r.roomCall(ctx, "skipTurn", struct{}{})
}

type voteParams struct {
	Direction bool `json:"direction"`
}

// Vote votes the current track up (true) or down.
func (r *Reconciler) Vote(ctx context.Context, up bool) error {
	return r.roomCall(ctx, "vote", voteParams{Direction: up})
}

type chatParams struct {
	Message string `json:"message"`
}

// SendChat posts a message. It appears locally when the buoy echoes it.
func (r *Reconciler) SendChat(ctx context.Context, text string) error {
	return r.roomCall(ctx, "sendChat", chatParams{Message: text})
}

// LeaveRoom leaves and clears the mirror.
func (r *Reconciler) LeaveRoom(ctx context.Context) error {
	if err := r.roomCall(ctx, "leaveRoom", struct{}{}); err != nil {
		return err
	}
	r.mu.Lock()
	id := r.room.id
	r.joined = false
	r.room = state{}
	r.mu.Unlock()

	r.publish(events.EventRoomLeft, events.Payload{"room_id": id})
	return nil
}

type profileParams struct {
	Profile Profile `json:"profile"`
}

// SetProfile updates the user's profile on the buoy and, on success, locally.
// With persist the profile is also saved for future sessions; a failure there
// is returned as *PersistError and does not undo the update.
func (r *Reconciler) SetProfile(ctx context.Context, profile Profile, persist bool) error {
	if err := r.sender.Send(ctx, "setProfile", profileParams{Profile: profile}, nil); err != nil {
		return err
	}

	r.mu.Lock()
	self := r.selfID
	if self != "" {
		r.profiles[self] = mergeProfiles(r.profiles[self], profile)
	}
	r.mu.Unlock()
	r.publish(events.EventProfileChanged, events.Payload{"peer_id": self, "handle": profile.Handle})

	if persist {
		if err := r.store.Put(ctx, ProfileDocID, profile); err != nil {
			r.logger.Warn().Err(err).Msg("profile not persisted")
			return &PersistError{Err: err}
		}
	}
	return nil
}

// StoredProfile loads the persisted profile, if any.
func (r *Reconciler) StoredProfile(ctx context.Context) (Profile, bool, error) {
	var p Profile
	err := r.store.Get(ctx, ProfileDocID, &p)
	if errors.Is(err, docstore.ErrNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	return p, true, nil
}

func (r *Reconciler) roomCall(ctx context.Context, name string, params any) error {
	r.mu.RLock()
	joined := r.joined
	r.mu.RUnlock()
	if !joined {
		return ErrNotInRoom
	}
	return r.sender.Send(ctx, name, params, nil)
}

func (r *Reconciler) applySnapshot(snap Snapshot) {
	r.mu.Lock()
	r.mergePeerProfiles(snap.Peers)
	next := state{id: snap.ID, name: snap.Name}.
		withPeers(snap.Peers).
		withDJs(snap.DJs).
		withActiveDJ(snap.ActiveDJ).
		withSkipWarning(snap.SkipWarning)
	for _, msg := range snap.Chat {
		next = next.withChat(msg, r.cfg.ChatLogSize)
	}
	r.room = next
	r.joined = true
	peers := len(r.room.peers)
	r.mu.Unlock()

	r.logger.Info().Str("room_id", snap.ID).Int("peers", peers).Msg("joined room")
	r.publish(events.EventRoomJoined, events.Payload{"room_id": snap.ID, "name": snap.Name, "peers": peers})
}

// mergePeerProfiles folds inline profiles into the side map. Caller holds mu.
func (r *Reconciler) mergePeerProfiles(peers []Peer) {
	for _, p := range peers {
		if p.ID == "" || p.Profile == nil || p.Profile.IsZero() {
			continue
		}
		r.profiles[p.ID] = mergeProfiles(r.profiles[p.ID], *p.Profile)
	}
}

func (r *Reconciler) setRooms(rooms []Summary) {
	r.mu.Lock()
	r.rooms = append([]Summary(nil), rooms...)
	r.mu.Unlock()
	r.publish(events.EventRoomsListed, events.Payload{"count": len(rooms)})
}

func (r *Reconciler) publish(t events.EventType, p events.Payload) {
	if r.bus != nil {
		r.bus.Publish(t, p)
	}
}
