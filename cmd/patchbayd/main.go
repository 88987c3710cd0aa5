/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/friendsincode/patchbay/internal/api"
	"github.com/friendsincode/patchbay/internal/audiodriver"
	"github.com/friendsincode/patchbay/internal/config"
	"github.com/friendsincode/patchbay/internal/events"
	"github.com/friendsincode/patchbay/internal/leadership"
	"github.com/friendsincode/patchbay/internal/logging"
	"github.com/friendsincode/patchbay/internal/notify"
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/driver"
	"github.com/friendsincode/patchbay/internal/patchbay/engine"
	"github.com/friendsincode/patchbay/internal/telemetry"
)

// mirroredEvents lists the engine event types forwarded onto the external
// notify bus. Not every internal event is interesting to an out-of-process
// monitor; this list mirrors the set a JACK session manager's D-Bus signal
// surface would expose.
var mirroredEvents = []events.EventType{
	events.EventPortRegistered,
	events.EventPortUnregistered,
	events.EventGraphReordered,
	events.EventClientActivated,
	events.EventClientDeactivated,
	events.EventClientLost,
	events.EventOverrun,
	events.EventTimebaseAcquired,
	events.EventTimebaseReleased,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Environment)
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}
	logger.Info().Msg("patchbayd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "patchbayd",
		ServiceVersion: "dev",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	bus := events.NewBus()
	if cfg.NotifyEnabled {
		nb, err := notify.NewBus(notify.Config{
			URL:           cfg.NATSUrl,
			Subject:       cfg.NATSSubject,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
			MaxFailures:   5,
		}, cfg.InstanceID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize notify bus")
		}
		defer nb.Close()
		forwardEvents(ctx, bus, nb)
	}

	var drv *audiodriver.Device
	var newSource engine.SourceFactory
	if cfg.AudioDriverEnabled {
		newSource = func(pool *buffer.Pool, comp *compiler.Compiler) driver.PeriodSource {
			drv = audiodriver.NewDevice(pool, comp, cfg.PeriodFrames, audiodriver.Config{
				RTPPort:      cfg.RTPPort,
				STUNServer:   cfg.STUNURL,
				TURNServer:   cfg.TURNURL,
				TURNUsername: cfg.TURNUsername,
				TURNPassword: cfg.TURNPassword,
			}, logger)
			return drv
		}
	}

	eng := engine.New(cfg, bus, newSource, logger)

	if cfg.AudioDriverEnabled {
		if _, err := eng.Manager.RegisterClient("system", drv); err != nil {
			logger.Fatal().Err(err).Msg("failed to register system client")
		}
		captureOut, err := eng.Manager.RegisterPort("system", "capture_1", patchbay.BuiltinAudioType, patchbay.IsOutput|patchbay.IsPhysical|patchbay.IsTerminal, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to register system capture port")
		}
		playbackIn, err := eng.Manager.RegisterPort("system", "playback_1", patchbay.BuiltinAudioType, patchbay.IsInput|patchbay.IsPhysical|patchbay.IsTerminal, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to register system playback port")
		}
		drv.SetPorts(captureOut, playbackIn)

		if err := eng.Manager.Activate("system", cfg.SampleRate); err != nil {
			logger.Fatal().Err(err).Msg("failed to activate system client")
		}
		if err := drv.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start audio driver")
		}
		defer drv.Stop()
	}

	engDone := make(chan error, 1)
	var election *leadership.Election
	if cfg.LeaderElectionEnabled {
		election, err = leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			ElectionKey:   "patchbay:leader:engine",
			InstanceID:    cfg.InstanceID,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize leader election")
		}
		la := engine.NewLeaderAware(eng, election, logger)
		if err := la.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start leader election")
		}
		go func() {
			<-ctx.Done()
			engDone <- la.Stop()
		}()
	} else {
		go func() { engDone <- eng.Run(ctx) }()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if election != nil {
			fmt.Fprintf(w, `{"status":"ok","leader":%t}`, election.IsLeader())
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	apiHandler := api.New(eng, logger)
	apiHandler.RegisterRoutes(router)

	if cfg.AudioDriverEnabled && drv != nil {
		router.HandleFunc("/signaling", drv.HandleSignaling)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful HTTP shutdown failed")
	}

	if err := <-engDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("engine loop exited with error")
	}

	logger.Info().Msg("patchbayd stopped")
}

// forwardEvents drains mirroredEvents off the in-process bus and republishes
// them on nb, the external NATS mirror, for the lifetime of ctx.
func forwardEvents(ctx context.Context, bus *events.Bus, nb *notify.Bus) {
	for _, eventType := range mirroredEvents {
		sub := bus.Subscribe(eventType)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-sub:
					nb.Publish(eventType, payload)
				}
			}
		}(eventType, sub)
	}
}
