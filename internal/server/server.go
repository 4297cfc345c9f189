/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/api"
	"github.com/friendsincode/kith/internal/auth"
	"github.com/friendsincode/kith/internal/cache"
	"github.com/friendsincode/kith/internal/calendar"
	"github.com/friendsincode/kith/internal/config"
	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/db"
	"github.com/friendsincode/kith/internal/eventbus"
	"github.com/friendsincode/kith/internal/leadership"
	"github.com/friendsincode/kith/internal/notifications"
	"github.com/friendsincode/kith/internal/planner"
	"github.com/friendsincode/kith/internal/reasoning"
	"github.com/friendsincode/kith/internal/reminders"
	"github.com/friendsincode/kith/internal/sharing"
	"github.com/friendsincode/kith/internal/telemetry"
	"github.com/friendsincode/kith/internal/version"
)

const (
	requestTimeout = 60 * time.Second
	streamPath     = "/api/v1/events/stream"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	cache                *cache.Cache
	bus                  eventbus.Bus
	api                  *api.API
	notificationSvc      *notifications.Service
	reminders            *reminders.Worker
	leaderAwareReminders *reminders.LeaderAware
	updates              *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("kith-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(requestTimeout)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipsTimeout(r) {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the event stream is not cut off; the middleware bounds everything else
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// skipsTimeout reports whether a request is long-lived and must bypass the request timeout.
func skipsTimeout(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || r.URL.Path == streamPath
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}

	bus, err := eventbus.New(s.cfg, eventbus.NodeID(s.cfg.InstanceID), s.logger)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)
	s.logger.Info().Str("backend", s.cfg.EventBus).Msg("event bus ready")

	// Redis cache for slots and feeds
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	loc := s.cfg.Scheduling.Location()
	contactSvc := contacts.NewService(database, bus, s.cache, s.logger)

	llm, err := reasoning.NewClient(s.cfg)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	generator := reasoning.NewGenerator(llm, s.cfg.LLMTimeout, loc, s.logger)
	if !generator.Enabled() {
		s.logger.Info().Msg("no llm provider configured, suggestions use templates")
	}

	plannerCfg := planner.Config{
		DB:        database,
		Contacts:  contactSvc,
		Cache:     s.cache,
		Generator: generator,
		Bus:       bus,
		Options:   s.cfg.Scheduling.Options,
		Location:  loc,
	}

	// Google Calendar is optional; without it slot suggestions are suppressed
	var connector api.CalendarConnector
	google := calendar.NewGoogleProvider(calendar.GoogleConfig{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURL,
		Location:     loc,
	}, calendar.NewTokenStore(database, calendar.ProviderGoogle), s.logger)
	if google.Configured() {
		plannerCfg.Calendar = google
		connector = google
		s.logger.Info().Msg("google calendar integration enabled")
	}

	plan := planner.New(plannerCfg, s.logger)
	s.notificationSvc = notifications.NewService(database, s.logger)
	sharingSvc := sharing.NewService(database, contactSvc, bus, s.cfg.BaseURL, s.logger)

	s.api = api.New(api.Deps{
		DB:            database,
		JWTSecret:     []byte(s.cfg.JWTSigningKey),
		Accounts:      auth.NewAccounts(database, []byte(s.cfg.JWTSigningKey)),
		Contacts:      contactSvc,
		Planner:       plan,
		Sharing:       sharingSvc,
		Notifications: s.notificationSvc,
		Calendar:      connector,
		Bus:           bus,
		Scheduling:    s.cfg.Scheduling.Options,
		Location:      loc,
		BaseURL:       s.cfg.BaseURL,
	}, s.logger)

	s.reminders = reminders.NewWorker(database, contactSvc, s.notificationSvc, bus, s.cfg.ReminderCheckInterval, s.logger)

	// With several instances only the leader sweeps reminders
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:       s.cfg.RedisAddr,
			RedisPassword:   s.cfg.RedisPassword,
			RedisDB:         s.cfg.RedisDB,
			ElectionKey:     "kith:leader:reminders",
			LeaseDuration:   15 * time.Second,
			RenewalInterval: 5 * time.Second,
			RetryInterval:   2 * time.Second,
			InstanceID:      s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareReminders = reminders.NewLeaderAware(s.reminders, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareReminders.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for reminders")
	}

	s.updates = version.NewChecker(s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Reminders run leader-aware if configured, otherwise directly
	if s.leaderAwareReminders != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareReminders.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware reminders exited")
			}
		}()
	} else if s.reminders != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.reminders.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("reminder loop exited")
			}
		}()
	}

	// Database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.notificationSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.notificationSvc.Start(ctx, s.bus)
		}()
	}

	// Cache invalidation listener
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.cache.Listen(ctx, s.bus)
		}()
	}

	if s.updates != nil && s.cfg.Environment != "development" {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.updates.Run(ctx)
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

type healthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UpdateAvailable bool   `json:"update_available,omitempty"`
	Leader          *bool  `json:"leader,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: version.Version}
	if s.updates != nil {
		resp.UpdateAvailable = s.updates.Info().UpdateAvailable
	}

	// Leader status only when leader election is enabled
	if s.leaderAwareReminders != nil {
		isLeader := s.leaderAwareReminders.IsLeader()
		resp.Leader = &isLeader
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}
