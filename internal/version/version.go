/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grooveboat/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, also set via ldflags.
var Commit = "dev"

// UserAgent identifies the client to buoys and media hosts.
func UserAgent() string {
	return "grooveboat/" + Version
}

// String is the long form printed by the version command.
func String() string {
	return fmt.Sprintf("grooveboat %s (%s, %s/%s, %s)", Version, Commit, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
