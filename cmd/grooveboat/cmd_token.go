/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grooveboat/internal/auth"
)

var (
	tokenHolder   string
	tokenTTL      time.Duration
	tokenReadOnly bool
)

var controlTokenCmd = &cobra.Command{
	Use:   "control-token",
	Short: "Mint a bearer token for the status server's guarded routes",
	Args:  cobra.NoArgs,
	RunE:  runControlToken,
}

func init() {
	controlTokenCmd.Flags().StringVar(&tokenHolder, "holder", "cli", "name recorded in the token")
	controlTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	controlTokenCmd.Flags().BoolVar(&tokenReadOnly, "read-only", false, "allow /logs only")
	rootCmd.AddCommand(controlTokenCmd)
}

func runControlToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.ControlSecret == "" {
		return fmt.Errorf("GROOVEBOAT_CONTROL_SECRET is not set; the status server accepts requests without a token")
	}

	scope := auth.ScopeControl
	if tokenReadOnly {
		scope = auth.ScopeRead
	}
	token, err := auth.Issue([]byte(cfg.ControlSecret), auth.Claims{
		Holder: tokenHolder,
		Scopes: []string{scope},
	}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
