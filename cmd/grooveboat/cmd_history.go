/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grooveboat/internal/docstore"
	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Show tracks heard in a room, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of plays to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

// noRoom satisfies history.RoomInfo for read-only use.
type noRoom struct{}

func (noRoom) RoomID() string   { return "" }
func (noRoom) ActiveDJ() string { return "" }

func runHistory(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		svc := history.NewService(store, events.NewBus(), noRoom{}, zerolog.Nop())
		plays, err := svc.List(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(plays) == 0 {
			fmt.Println("nothing heard in this room yet")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tTRACK\tDJ")
		for _, p := range plays {
			track := p.Title
			if track == "" {
				track = p.TrackID
			}
			if p.Artist != "" {
				track = p.Artist + " - " + track
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.StartedAt.Local().Format("2006-01-02 15:04"), track, p.DJ)
		}
		return w.Flush()
	})
}
