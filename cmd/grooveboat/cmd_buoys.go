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

	"github.com/friendsincode/grooveboat/internal/buoy"
	"github.com/friendsincode/grooveboat/internal/docstore"
)

var joinCmd = &cobra.Command{
	Use:   "join <invite>",
	Short: "Redeem a buoy invite and store its credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

var buoysCmd = &cobra.Command{
	Use:   "buoys",
	Short: "List stored buoys",
	Args:  cobra.NoArgs,
	RunE:  runBuoys,
}

var buoysForgetCmd = &cobra.Command{
	Use:   "forget <url>",
	Short: "Remove a stored buoy credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuoysForget,
}

func init() {
	buoysCmd.AddCommand(buoysForgetCmd)
	rootCmd.AddCommand(joinCmd, buoysCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.client.JoinInvite(ctx, args[0])
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	fmt.Printf("joined %s (%s)\n", b.Name, b.URL)
	return nil
}

// withStore runs fn against the configured document store only; these
// commands never touch the network.
func withStore(fn func(store docstore.Store) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	store, err := docstore.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func runBuoys(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		buoys, err := buoy.NewRegistry(store).List(cmd.Context())
		if err != nil {
			return err
		}
		if len(buoys) == 0 {
			fmt.Println("no buoys yet; run `grooveboat join <invite>`")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tURL")
		for _, b := range buoys {
			fmt.Fprintf(w, "%s\t%s\n", b.Name, b.URL)
		}
		return w.Flush()
	})
}

func runBuoysForget(cmd *cobra.Command, args []string) error {
	return withStore(func(store docstore.Store) error {
		if err := buoy.NewRegistry(store).Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("forgot %s\n", args[0])
		return nil
	})
}
