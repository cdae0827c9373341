/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/friendsincode/grooveboat/internal/buoy"
	"github.com/friendsincode/grooveboat/internal/cache"
	"github.com/friendsincode/grooveboat/internal/client"
	"github.com/friendsincode/grooveboat/internal/docstore"
	"github.com/friendsincode/grooveboat/internal/eventbus"
	"github.com/friendsincode/grooveboat/internal/events"
	"github.com/friendsincode/grooveboat/internal/history"
	"github.com/friendsincode/grooveboat/internal/jukebox"
	"github.com/friendsincode/grooveboat/internal/library"
	"github.com/friendsincode/grooveboat/internal/media"
	"github.com/friendsincode/grooveboat/internal/notify"
	"github.com/friendsincode/grooveboat/internal/room"
	"github.com/friendsincode/grooveboat/internal/rpc"
	"github.com/friendsincode/grooveboat/internal/telemetry"
	"github.com/friendsincode/grooveboat/internal/version"
	"github.com/friendsincode/grooveboat/internal/webhooks"
)

// app is the wired client. Every command that talks to a buoy builds one.
type app struct {
	store      docstore.Store
	bus        *events.Bus
	mirror     *eventbus.NATSBus
	notify     *notify.Center
	dispatcher *rpc.Dispatcher
	registry   *buoy.Registry
	library    *library.Library
	room       *room.Reconciler
	jukebox    *jukebox.Jukebox
	client     *client.Client
	history    *history.Service
	webhooks   *webhooks.Service
	tracer     *telemetry.TracerProvider
	closers    []func() error
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{bus: events.NewBus()}

	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "grooveboat",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	a.tracer = tracer
	a.deferClose(func() error { return tracer.Shutdown(context.Background()) })

	store, err := docstore.Open(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.store = store
	a.deferClose(store.Close)

	var publisher events.Publisher = a.bus
	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		mirror, err := eventbus.NewNATSBus(natsCfg, a.bus, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("event mirror disabled")
		}
		a.mirror = mirror
		publisher = mirror
		a.deferClose(mirror.Close)
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.TTL = cfg.TrackCacheTTL
	cacheCfg.MemoryBytes = cfg.TrackCacheBytes
	if cfg.TrackCacheRedis {
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
	}
	tracks := cache.New(cacheCfg, logger)
	a.deferClose(tracks.Close)
	fetcher := tracks.Wrap(media.NewService(cfg, logger))

	clk := clock.New()
	a.notify = notify.NewCenter(clk, publisher, logger)
	a.dispatcher = rpc.New(logger)
	a.registry = buoy.NewRegistry(store)
	a.library = library.New(store, logger)
	a.room = room.New(a.dispatcher, a.library, store, publisher, room.Config{
		StageSize:   cfg.StageSize,
		ChatLogSize: cfg.ChatLogSize,
	}, logger)
	a.jukebox = jukebox.New(jukebox.Options{
		Clock:     clk,
		NewPlayer: jukebox.NewHeadlessFactory(clk, fetcher, logger),
		Sender:    a.dispatcher,
		Notifier:  a.notify,
		Bus:       publisher,
		Config: jukebox.Config{
			LoadTimeout:    cfg.TrackLoadTimeout,
			SyncInterval:   cfg.ClockSyncInterval,
			Tolerance:      cfg.SyncTolerance,
			BufferingDelay: cfg.BufferingDelay,
		},
		Logger: logger,
	})
	a.deferClose(func() error { a.jukebox.Close(); return nil })

	if err := a.room.Register(a.dispatcher); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.jukebox.Register(a.dispatcher); err != nil {
		a.Close()
		return nil, err
	}

	a.client = client.New(client.Options{
		Config:     cfg,
		Registry:   a.registry,
		Dispatcher: a.dispatcher,
		Room:       a.room,
		Notifier:   a.notify,
		Bus:        publisher,
		Logger:     logger,
	})
	a.deferClose(a.client.Close)

	a.history = history.NewService(store, a.bus, a.room, logger)
	hookEvents := make([]events.EventType, 0, len(cfg.WebhookEvents))
	for _, e := range cfg.WebhookEvents {
		hookEvents = append(hookEvents, events.EventType(e))
	}
	a.webhooks = webhooks.NewService(webhooks.Config{
		URLs:   cfg.WebhookURLs,
		Secret: cfg.WebhookSecret,
		Events: hookEvents,
	}, a.bus, a.room, logger)
	return a, nil
}

// runBackground starts the history recorder and webhook forwarder. The
// returned func waits for both after ctx ends.
func (a *app) runBackground(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.history.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.webhooks.Start(ctx)
	}()
	return wg.Wait
}

// connect opens the first stored buoy and applies the stored profile.
func (a *app) connect(ctx context.Context) (buoy.Buoy, error) {
	b, err := a.client.Start(ctx)
	if err != nil {
		return buoy.Buoy{}, err
	}
	profile, ok, err := a.room.StoredProfile(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read stored profile")
	} else if ok {
		if err := a.room.SetProfile(ctx, profile, false); err != nil {
			logger.Warn().Err(err).Msg("could not restore profile")
		}
	}
	return b, nil
}

func (a *app) deferClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases owned resources in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Debug().Err(err).Msg("shutdown cleanup failed")
		}
	}
	a.closers = nil
}
