package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"roombook/internal/export"
	"roombook/internal/models"
	"roombook/internal/service"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		if err := s.svc.Ready(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Rooms

func (s *HTTPServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if p, ok := PrincipalFrom(r.Context()); ok && p.Actor.IsAdmin() && r.URL.Query().Get("all") == "true" {
		activeOnly = false
	}

	rooms, err := s.svc.Rooms.ListRooms(r.Context(), activeOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.svc.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *HTTPServer) handleRoomSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := chi.URLParam(r, "id")

	date, err := s.svc.Bookings.ParseDate(q.Get("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	hours, err := parseHours(q.Get("duration"), models.DefaultMinDurationHours)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	slots, err := s.svc.Bookings.SlotAvailability(r.Context(), roomID, date, hours, q.Get("exclude"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":        roomID,
		"date":           date.Format(models.DateLayout),
		"duration_hours": hours,
		"slots":          slots,
	})
}

func (s *HTTPServer) handleRoomAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date, err := s.svc.Bookings.ParseDate(q.Get("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	start := strings.TrimSpace(q.Get("start"))
	if start == "" {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	hours, err := parseHours(q.Get("duration"), models.DefaultMinDurationHours)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	availability, err := s.svc.Bookings.CheckSlot(r.Context(), chi.URLParam(r, "id"), date, start, hours, q.Get("exclude"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

// Bookings

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, p.User)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in service.BookingInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, _ := PrincipalFrom(r.Context())
	booking, err := s.svc.Bookings.CreateBooking(r.Context(), p.Actor, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), p.Actor.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	booking, err := s.svc.Bookings.GetBooking(r.Context(), p.Actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var in service.RescheduleInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, _ := PrincipalFrom(r.Context())
	booking, err := s.svc.Bookings.RescheduleBooking(r.Context(), p.Actor, chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	booking, err := s.svc.Bookings.CancelBooking(r.Context(), p.Actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// Admin

func (s *HTTPServer) bookingFilter(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		RoomID: strings.TrimSpace(q.Get("room_id")),
		UserID: strings.TrimSpace(q.Get("user_id")),
		Status: strings.TrimSpace(q.Get("status")),
	}

	if raw := q.Get("from"); raw != "" {
		from, err := s.svc.Bookings.ParseDate(raw)
		if err != nil {
			return filter, err
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := s.svc.Bookings.ParseDate(raw)
		if err != nil {
			return filter, err
		}
		// to включительно
		filter.To = to.AddDate(0, 0, 1)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: limit must be a non-negative integer", service.ErrInvalidInput)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (s *HTTPServer) handleAdminBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := s.bookingFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	bookings, err := s.svc.Bookings.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := s.bookingFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	bookings, err := s.svc.Bookings.ListBookings(ctx, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rooms, err := s.svc.Rooms.ListRooms(ctx, false)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	users, err := s.svc.Users.ListUsers(ctx, "", "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookingsXLSX(&buf, bookings, rooms, users, s.svc.Bookings.Detector().Location()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in service.RoomInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, _ := PrincipalFrom(r.Context())
	room, err := s.svc.Rooms.CreateRoom(r.Context(), in, p.Actor.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *HTTPServer) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var in service.RoomInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, _ := PrincipalFrom(r.Context())
	room, err := s.svc.Rooms.UpdateRoom(r.Context(), chi.URLParam(r, "id"), in, p.Actor.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *HTTPServer) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if err := s.svc.Rooms.DeleteRoom(r.Context(), chi.URLParam(r, "id"), p.Actor.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.svc.Users.ListUsers(r.Context(), q.Get("status"), q.Get("sort"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, _ := PrincipalFrom(r.Context())
	user, err := s.svc.Users.UpdateUserStatus(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(body.Status), p.Actor.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookings, err := s.svc.Bookings.ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	users, err := s.svc.Users.ListUsers(ctx, "", "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rooms, err := s.svc.Rooms.ListRooms(ctx, false)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.svc.Stats.Compute(bookings, users, rooms))
}

func (s *HTTPServer) handleFailedSyncTasks(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet sync is disabled")
		return
	}
	tasks, err := s.svc.Sync.FailedTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.SyncTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleResync(w http.ResponseWriter, r *http.Request) {
	if s.svc.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet sync is disabled")
		return
	}
	if err := s.svc.Sync.EnqueueFullResync(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseHours(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 || hours > 24 {
		return 0, fmt.Errorf("%w: duration must be a positive number of hours", service.ErrInvalidInput)
	}
	return hours, nil
}
