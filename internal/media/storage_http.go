/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/grooveboat/internal/version"
)

// maxTrackBytes caps a single download.
const maxTrackBytes = 64 << 20

// HTTPSource downloads tracks over HTTP(S).
type HTTPSource struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSource creates an HTTP source with the given whole-request timeout.
func NewHTTPSource(timeout time.Duration, logger zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Fetch GETs trackURL and returns the body.
func (h *HTTPSource) Fetch(ctx context.Context, trackURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch track: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch track: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read track body: %w", err)
	}
	if len(body) > maxTrackBytes {
		return nil, fmt.Errorf("track exceeds %d bytes", maxTrackBytes)
	}
	return body, nil
}
