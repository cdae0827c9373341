/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grooveboat/internal/docstore"
	"github.com/friendsincode/grooveboat/internal/library"
)

var (
	trackTitle    string
	trackArtist   string
	trackAlbum    string
	trackDuration time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the local track queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a track to the end of the selected queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the selected queue in play order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <track-id>",
	Short: "Remove a track from the selected queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

func init() {
	queueAddCmd.Flags().StringVar(&trackTitle, "title", "", "track title")
	queueAddCmd.Flags().StringVar(&trackArtist, "artist", "", "track artist")
	queueAddCmd.Flags().StringVar(&trackAlbum, "album", "", "track album")
	queueAddCmd.Flags().DurationVar(&trackDuration, "duration", 0, "track length, if known")

	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueRemoveCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		track, err := library.New(store, logger).AddTrack(cmd.Context(), library.TrackInput{
			URL:      args[0],
			Title:    trackTitle,
			Artist:   trackArtist,
			Album:    trackAlbum,
			Duration: trackDuration.Seconds(),
		})
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		fmt.Printf("queued %s (%s)\n", displayTitle(track), track.ID)
		return nil
	})
}

func runQueueList(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		lib := library.New(store, logger)
		q, err := lib.SelectedQueue(cmd.Context())
		if err != nil {
			return err
		}
		tracks, err := lib.QueueTracks(cmd.Context(), q)
		if err != nil {
			return err
		}
		if len(tracks) == 0 {
			fmt.Printf("%s is empty\n", q.Name)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tID\tTRACK\tURL")
		for i, t := range tracks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, t.ID, displayTitle(t), t.URL)
		}
		return w.Flush()
	})
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		lib := library.New(store, logger)
		q, err := lib.SelectedQueue(cmd.Context())
		if err != nil {
			return err
		}
		if err := lib.RemoveFromQueue(cmd.Context(), args[0], q.ID); err != nil {
			return fmt.Errorf("remove track: %w", err)
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	})
}

func displayTitle(t library.Track) string {
	title := t.Title
	if title == "" {
		title = t.Filename
	}
	if t.Artist != "" {
		return t.Artist + " - " + title
	}
	return title
}
