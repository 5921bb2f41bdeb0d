package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/raine/wallet-session/internal/auth"
	"github.com/raine/wallet-session/internal/otp"
	"github.com/rs/zerolog/log"
)

type sessionResponse struct {
	State           auth.State `json:"state"`
	IsAuthenticated bool       `json:"is_authenticated"`
	NeedsRefresh    bool       `json:"needs_refresh"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	// Seconds until the access token expires, negative once it has.
	ExpiresIn *int64 `json:"expires_in,omitempty"`
}

type ensureResponse struct {
	Valid   bool            `json:"valid"`
	Session sessionResponse `json:"session"`
}

type verifyRequest struct {
	PhoneNumber string          `json:"phone_number"`
	OTP         string          `json:"otp"`
	Context     otp.ContextData `json:"context"`
}

type resendRequest struct {
	PhoneNumber string          `json:"phone_number"`
	Context     otp.ContextData `json:"context"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newSessionResponse(st auth.Status) sessionResponse {
	resp := sessionResponse{
		State:           st.State,
		IsAuthenticated: st.IsAuthenticated,
		NeedsRefresh:    st.NeedsRefresh,
	}
	if !st.ExpiresAt.IsZero() {
		expiresAt := st.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	if st.TimeUntilExpiry != nil {
		secs := int64(st.TimeUntilExpiry.Seconds())
		resp.ExpiresIn = &secs
	}
	return resp
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(s.guard.CheckAuth(r.Context())))
}

func (s *Server) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	valid := s.guard.EnsureValidToken(r.Context())
	writeJSON(w, http.StatusOK, ensureResponse{
		Valid:   valid,
		Session: newSessionResponse(s.guard.CheckAuth(r.Context())),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.guard.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.events.RecentAuthEvents(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read auth events")
		writeError(w, http.StatusInternalServerError, "failed to read auth events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	t, ok := parseType(w, r)
	if !ok {
		return
	}

	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.registry.Verify(r.Context(), t,
		otp.VerifyRequest{PhoneNumber: body.PhoneNumber, OTP: body.OTP}, body.Context)
	if err != nil {
		writeOTPError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	t, ok := parseType(w, r)
	if !ok {
		return
	}

	var body resendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.registry.Resend(r.Context(), t,
		otp.ResendRequest{PhoneNumber: body.PhoneNumber}, body.Context)
	if err != nil {
		writeOTPError(w, t, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseType(w http.ResponseWriter, r *http.Request) (otp.Type, bool) {
	t, err := otp.ParseType(mux.Vars(r)["type"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return t, true
}

func writeOTPError(w http.ResponseWriter, t otp.Type, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, otp.ErrResendThrottled), errors.Is(err, otp.ErrTooManyAttempts):
		status = http.StatusTooManyRequests
	case errors.Is(err, auth.ErrSessionExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, otp.ErrTransport):
		status = http.StatusBadGateway
	case errors.Is(err, otp.ErrNoServiceRegistered), errors.Is(err, otp.ErrNoRoute):
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Stringer("otpType", t).Msg("otp dispatch failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
