/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media fetches track bytes for the local player. Tracks are named by
// URL; the scheme picks the backend.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grooveboat/internal/config"
	"github.com/friendsincode/grooveboat/internal/telemetry"
)

// ErrUnsupportedScheme is returned for track URLs no backend handles.
var ErrUnsupportedScheme = errors.New("media: unsupported track url scheme")

// Fetcher retrieves the full body of a track.
type Fetcher interface {
	Fetch(ctx context.Context, trackURL string) ([]byte, error)
}

// Service routes fetches to the filesystem, HTTP or S3 backend.
type Service struct {
	http   *HTTPSource
	files  *FilesystemSource
	logger zerolog.Logger

	s3Once sync.Once
	s3     *S3Source
	s3Err  error
	s3cfg  S3Config
}

// NewService creates a media service. The S3 client is built on first use so
// a client that never plays s3:// tracks needs no AWS configuration.
func NewService(cfg *config.Config, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "media").Logger()
	return &Service{
		http:   NewHTTPSource(cfg.FetchTimeout, logger),
		files:  NewFilesystemSource(logger),
		logger: logger,
		s3cfg: S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		},
	}
}

// Fetch downloads trackURL.
func (s *Service) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	u, err := url.Parse(trackURL)
	if err != nil {
		return nil, fmt.Errorf("parse track url: %w", err)
	}

	var (
		source  string
		fetcher Fetcher
	)
	switch u.Scheme {
	case "http", "https":
		source, fetcher = "http", s.http
	case "file", "":
		source, fetcher = "file", s.files
	case "s3":
		source = "s3"
		s3src, err := s.s3Source(ctx)
		if err != nil {
			return nil, err
		}
		fetcher = s3src
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	started := time.Now()
	body, err := fetcher.Fetch(ctx, trackURL)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn().Err(err).Str("source", source).Str("url", trackURL).Msg("track fetch failed")
	}
	telemetry.MediaFetchDuration.WithLabelValues(source, outcome).Observe(time.Since(started).Seconds())
	return body, err
}

func (s *Service) s3Source(ctx context.Context) (*S3Source, error) {
	s.s3Once.Do(func() {
		if s.s3cfg.AccessKeyID == "" || s.s3cfg.SecretAccessKey == "" {
			s.logger.Warn().Msg("S3 credentials not configured, falling back to the default AWS chain")
		}
		s.s3, s.s3Err = NewS3Source(ctx, s.s3cfg, s.logger)
	})
	if s.s3Err != nil {
		return nil, fmt.Errorf("initialize S3 source: %w", s.s3Err)
	}
	return s.s3, nil
}
