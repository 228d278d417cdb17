// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/panenka/internal/buzzer"
)

const (
	hostTokenHeader = "X-Host-Token"
	playerIDHeader  = "X-Player-ID"
	maxBodyBytes    = 4 << 10
)

func hostCookieName(code string) string   { return "buzzer_host_" + code }
func playerCookieName(code string) string { return "buzzer_player_" + code }

// lobbyCode returns the upper-cased {code} route parameter.
func lobbyCode(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
}

// extractHostToken looks in the X-Host-Token header, the token query parameter,
// then the lobby's host cookie. fromQuery reports a rejoin link.
func extractHostToken(r *http.Request, code string) (token string, fromQuery bool) {
	if t := r.Header.Get(hostTokenHeader); t != "" {
		return t, false
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return extractCookieToken(r, hostCookieName(code)), false
}

// extractPlayerID looks in the X-Player-ID header, then the lobby's player cookie.
func extractPlayerID(r *http.Request, code string) string {
	if id := r.Header.Get(playerIDHeader); id != "" {
		return id
	}
	return extractCookieToken(r, playerCookieName(code))
}

// extractCookieToken returns the named cookie value, or empty if not found.
func extractCookieToken(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: bad request payload", buzzer.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto the status code contract.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, r *http.Request, err error) {
	switch {
	case errors.Is(err, buzzer.ErrNotFound):
		http.Error(w, "lobby not found", http.StatusNotFound)
	case errors.Is(err, buzzer.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, buzzer.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, buzzer.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "lobby busy, retry", http.StatusServiceUnavailable)
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
