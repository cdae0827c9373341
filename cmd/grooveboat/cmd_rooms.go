/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms on the first stored buoy",
	Args:  cobra.NoArgs,
	RunE:  runRooms,
}

var createRoomCmd = &cobra.Command{
	Use:   "create-room <name>",
	Short: "Create a room and keep its admin token",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreateRoom,
}

func init() {
	rootCmd.AddCommand(roomsCmd, createRoomCmd)
}

func runRooms(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.connect(ctx); err != nil {
		return err
	}
	rooms, err := a.room.FetchRooms(ctx)
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPEERS\tPLAYING")
	for _, r := range rooms {
		playing := "-"
		if r.NowPlaying != nil {
			playing = r.NowPlaying.Title
			if r.NowPlaying.Artist != "" {
				playing = r.NowPlaying.Artist + " - " + playing
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Name, r.PeerCount, playing)
	}
	return w.Flush()
}

func runCreateRoom(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.connect(ctx); err != nil {
		return err
	}
	created, err := a.room.CreateRoom(ctx, args[0])
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Printf("created %s (%s)\n", created.Name, created.ID)
	return nil
}
