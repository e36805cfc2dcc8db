// Package server wires the control API: router, middleware, routes and a
// listener with graceful shutdown.
//
// ROUTES:
//
//	GET    /api/health           → liveness, no token needed
//	GET    /api/entities         → tracked users
//	POST   /api/entities         → start tracking {"id"}
//	DELETE /api/entities/{id}    → stop tracking
//	PUT    /api/self             → mark the local user {"id"}
//	POST   /api/sync             → run a cycle now
//	GET    /api/notifications    → recent events
//	POST   /api/mute             → mute through {"until"}
//	DELETE /api/mute             → unmute
//	POST   /api/mirror/retry     → replay failed mirror writes
//	GET    /api/schedule         → polling preference
//	PUT    /api/schedule         → change polling preference
//
// Everything but health requires a bearer token issued by `streakwatch token`.
//
// MIDDLEWARE ORDER:
// Middleware runs in the order it is added:
//  1. RequestID: tags each request for the log line
//  2. RealIP: client address from proxy headers
//  3. Recoverer: a panic becomes a 500 instead of killing the daemon
//  4. Logger: one structured line per request
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/streakwatch/internal/auth"
	"github.com/sakif/streakwatch/internal/handler"
	"github.com/sakif/streakwatch/internal/middleware"
)

type Config struct {
	// Addr is the listen address. The API is meant for the local machine,
	// so the default binds loopback only.
	Addr            string
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Addr: "127.0.0.1:7878", ShutdownTimeout: 30 * time.Second}
}

type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

func New(cfg Config, control *handler.ControlHandler, tokens *auth.TokenService, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(control, tokens)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(control *handler.ControlHandler, tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", control.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/entities", control.HandleListEntities)
			r.Post("/entities", control.HandleAddEntity)
			r.Delete("/entities/{id}", control.HandleRemoveEntity)
			r.Put("/self", control.HandleSetSelf)
			r.Post("/sync", control.HandleSync)
			r.Get("/notifications", control.HandleNotifications)
			r.Post("/mute", control.HandleMute)
			r.Delete("/mute", control.HandleUnmute)
			r.Post("/mirror/retry", control.HandleRetryMirror)
			r.Get("/schedule", control.HandleGetSchedule)
			r.Put("/schedule", control.HandlePutSchedule)
		})
	})
}

// Start serves until ctx is cancelled, then gives in-flight requests
// ShutdownTimeout to finish.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// a manual sync waits for the whole cycle
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", slog.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("control API shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: graceful shutdown failed: %w", err)
	}
	s.logger.Info("control API stopped")
	return nil
}
