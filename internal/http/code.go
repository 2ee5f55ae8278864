package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/walink/internal/pairing"
)

type codeResponse struct {
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCode answers GET /code?number= with a pairing code, an
// "already paired" status or an error. The session outlives the request:
// a client that times out or goes away does not stop it.
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		writeJSON(w, http.StatusBadRequest, codeResponse{Error: "number required"})
		return
	}

	if !s.opts.Limiter.Allow(clientIP(r)) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, codeResponse{Error: "too many requests, try again later"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.PairTimeout)
	defer cancel()

	res, err := s.opts.Pairer.Pair(ctx, number)
	if err != nil {
		status, msg := describe(err)
		if status >= http.StatusInternalServerError {
			slog.Warn("http: pairing failed", "identity", res.Identity, "error", err)
		}
		writeJSON(w, status, codeResponse{Error: msg})
		return
	}

	switch res.Outcome {
	case pairing.OutcomeCode:
		writeJSON(w, http.StatusOK, codeResponse{Code: res.Code})
	case pairing.OutcomeAlreadyLinked:
		writeJSON(w, http.StatusOK, codeResponse{Status: "already paired"})
	default:
		writeJSON(w, http.StatusInternalServerError, codeResponse{Error: "service unavailable"})
	}
}

// describe maps a pairing failure to a status and a short message for the
// caller. Internal error text is never exposed.
func describe(err error) (int, string) {
	switch {
	case errors.Is(err, pairing.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid number"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, "pairing timed out"
	case errors.Is(err, pairing.ErrSessionActive):
		return http.StatusInternalServerError, "a session for this number is still connecting, try again shortly"
	case errors.Is(err, pairing.ErrPairingCode):
		return http.StatusInternalServerError, "could not get a pairing code"
	case errors.Is(err, pairing.ErrShutdown):
		return http.StatusInternalServerError, "service shutting down"
	default:
		return http.StatusInternalServerError, "service unavailable"
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
