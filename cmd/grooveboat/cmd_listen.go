/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/server"
)

var listenAsDJ bool

var listenCmd = &cobra.Command{
	Use:   "listen <room-id>",
	Short: "Join a room and play along until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenAsDJ, "dj", false, "step up as a DJ after joining")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.connect(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("buoy", b.Name).Msg("connected")

	printer := a.printEvents(ctx)
	background := a.runBackground(ctx)

	snap, err := a.room.JoinRoom(ctx, args[0])
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	fmt.Printf("in %s with %d peers\n", snap.Name, len(snap.Peers))

	if listenAsDJ {
		if err := a.room.BecomeDJ(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not step up as DJ")
		}
	}

	var srv *server.Server
	if cfg.StatusBind != "" {
		srv = server.New(cfg.StatusBind, server.Dependencies{
			Room:          a.room,
			Playback:      a.jukebox,
			Connection:    a.client,
			Notifications: a.notify,
			Dispatcher:    a.dispatcher,
			Logs:          logs,
			ControlSecret: []byte(cfg.ControlSecret),
		}, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status server failed")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("leaving")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.room.LeaveRoom(shutdownCtx); err != nil {
		logger.Debug().Err(err).Msg("leave room failed")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Debug().Err(err).Msg("status server shutdown failed")
		}
	}
	<-printer
	background()
	return nil
}

// printEvents writes chat, track and notification events to stdout until
// ctx ends. The returned channel closes when printing stops.
func (a *app) printEvents(ctx context.Context) <-chan struct{} {
	chat := a.bus.Subscribe(events.EventChatMessage)
	started := a.bus.Subscribe(events.EventTrackStarted)
	notes := a.bus.Subscribe(events.EventNotification)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer a.bus.Unsubscribe(events.EventChatMessage, chat)
		defer a.bus.Unsubscribe(events.EventTrackStarted, started)
		defer a.bus.Unsubscribe(events.EventNotification, notes)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-chat:
				fmt.Printf("<%v> %v\n", a.handle(p["from"]), p["body"])
			case p := <-started:
				if artist, _ := p["artist"].(string); artist != "" {
					fmt.Printf("now playing: %s - %v\n", artist, p["title"])
				} else {
					fmt.Printf("now playing: %v\n", p["title"])
				}
			case p := <-notes:
				fmt.Printf("[%v] %v\n", p["title"], p["message"])
			}
		}
	}()
	return done
}

// handle prefers the peer's profile handle over its id.
func (a *app) handle(from any) string {
	id, _ := from.(string)
	for _, p := range a.room.Peers() {
		if p.ID == id && p.Profile != nil && p.Profile.Handle != "" {
			return p.Profile.Handle
		}
	}
	return id
}
