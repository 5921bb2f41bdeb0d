// Package agent exposes the wallet session to local consumers over HTTP.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/raine/wallet-session/internal/auth"
	"github.com/raine/wallet-session/internal/metrics"
	"github.com/raine/wallet-session/internal/otp"
	"github.com/raine/wallet-session/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	defaultEventLimit = 50
	shutdownTimeout   = 5 * time.Second
)

// EventLog is the read side of the persisted auth event history.
type EventLog interface {
	RecentAuthEvents(ctx context.Context, limit int) ([]storage.AuthEventRecord, error)
}

type Server struct {
	guard    *auth.Guard
	registry *otp.Registry
	events   EventLog
	router   *mux.Router
}

// NewServer builds the agent routes. events may be nil, in which case the
// event history route is not registered.
func NewServer(guard *auth.Guard, registry *otp.Registry, events EventLog) *Server {
	s := &Server{
		guard:    guard,
		registry: registry,
		events:   events,
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests, recoverPanics)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.HandleFunc("/session", s.handleGetSession).Methods("GET")
	r.HandleFunc("/session/ensure", s.handleEnsureSession).Methods("POST")
	r.HandleFunc("/session/logout", s.handleLogout).Methods("POST")
	if s.events != nil {
		r.HandleFunc("/session/events", s.handleListEvents).Methods("GET")
	}

	r.HandleFunc("/otp/{type}/verify", s.handleVerify).Methods("POST")
	r.HandleFunc("/otp/{type}/resend", s.handleResend).Methods("POST")

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("agent listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("stopping agent")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					scope.SetTag("path", r.URL.Path)
					sentry.CaptureMessage("panic in agent request")
				})
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("agent request")
	})
}
