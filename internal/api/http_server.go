package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"roombook/internal/config"
	"roombook/internal/metrics"
	"roombook/internal/models"
	"roombook/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SyncAdmin exposes the spreadsheet sync queue to administrators.
type SyncAdmin interface {
	EnqueueFullResync(ctx context.Context) error
	FailedTasks(ctx context.Context) ([]models.SyncTask, error)
}

// Services groups what the HTTP API serves. Sync and Ready may be nil.
type Services struct {
	Bookings *service.BookingService
	Rooms    *service.RoomService
	Users    *service.UserService
	Stats    *service.StatsService
	Sync     SyncAdmin
	Ready    func(ctx context.Context) error
}

// HTTPServer exposes the booking API over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	auth   *HTTPAuth
	server *http.Server
	logger zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, svc Services, tokens *TokenParser, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		auth:   NewHTTPAuth(cfg, tokens, svc.Users, logger),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv
}

// Routes builds the chi router; exposed for httptest.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Get("/{id}", s.handleGetRoom)
			r.Get("/{id}/slots", s.handleRoomSlots)
			r.Get("/{id}/availability", s.handleRoomAvailability)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/me", s.handleMe)
			r.Post("/bookings", s.handleCreateBooking)
			r.Get("/bookings/me", s.handleMyBookings)
			r.Get("/bookings/{id}", s.handleGetBooking)
			r.Post("/bookings/{id}/reschedule", s.handleRescheduleBooking)
			r.Post("/bookings/{id}/cancel", s.handleCancelBooking)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/bookings", s.handleAdminBookings)
			r.Get("/bookings/export", s.handleExportBookings)
			r.Post("/rooms", s.handleCreateRoom)
			r.Put("/rooms/{id}", s.handleUpdateRoom)
			r.Delete("/rooms/{id}", s.handleDeleteRoom)
			r.Get("/users", s.handleListUsers)
			r.Put("/users/{id}/status", s.handleUpdateUserStatus)
			r.Get("/stats", s.handleStats)
			r.Get("/sync/failed", s.handleFailedSyncTasks)
			r.Post("/sync/resync", s.handleResync)
		})
	})

	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.IncHTTP(r.Method + " " + route)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Str("path", r.URL.Path).
					Msg("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
