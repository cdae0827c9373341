/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/rs/zerolog"
)

// FilesystemSource reads tracks from local paths or file:// URLs.
type FilesystemSource struct {
	logger zerolog.Logger
}

// NewFilesystemSource creates a filesystem-backed source.
func NewFilesystemSource(logger zerolog.Logger) *FilesystemSource {
	return &FilesystemSource{logger: logger}
}

// Fetch reads the whole file.
func (fs *FilesystemSource) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := trackURL
	if u, err := url.Parse(trackURL); err == nil && u.Scheme == "file" {
		path = u.Path
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track file: %w", err)
	}
	fs.logger.Debug().Str("path", path).Int("bytes", len(body)).Msg("track read from disk")
	return body, nil
}
