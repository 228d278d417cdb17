// internal/handlers/lobby.go
package handlers

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/panenka/internal/buzzer"
)

type createLobbyRequest struct {
	HostName string `json:"host_name"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type buzzResponse struct {
	Status buzzer.BuzzStatus `json:"status"`
	State  *buzzer.State     `json:"state"`
}

type questionRequest struct {
	Value *int `json:"value"`
}

type confirmRequest struct {
	PlayerID string `json:"player_id"`
}

type resolveRequest struct {
	Action string `json:"action"`
}

// CreateLobbyHandler opens a lobby and hands the caller its host token, in the body and as a cookie.
func CreateLobbyHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLobbyRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, logger, r, err)
			return
		}
		sess, err := e.CreateLobby(r.Context(), req.HostName)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		setSessionCookie(w, r, hostCookieName(sess.Code), sess.HostToken)
		writeJSON(w, http.StatusOK, sess)
	}
}

// JoinLobbyHandler adds a player and remembers their id in a cookie.
func JoinLobbyHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, logger, r, err)
			return
		}
		sess, err := e.Join(r.Context(), lobbyCode(r), req.Name)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		setSessionCookie(w, r, playerCookieName(sess.Code), sess.PlayerID)
		writeJSON(w, http.StatusOK, sess)
	}
}

// StateHandler is the poll endpoint. A presented host token selects the host view,
// otherwise the caller must be a player of the lobby.
func StateHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := lobbyCode(r)
		if token, fromQuery := extractHostToken(r, code); token != "" {
			st, err := e.HostState(r.Context(), code, token)
			if err != nil {
				writeError(w, logger, r, err)
				return
			}
			if fromQuery {
				// rejoin link: keep the host signed in on this device
				setSessionCookie(w, r, hostCookieName(st.Code), token)
			}
			writeJSON(w, http.StatusOK, st)
			return
		}

		st, err := e.PlayerState(r.Context(), code, extractPlayerID(r, code))
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// BuzzHandler records a buzz. Refused buzzes still answer 200 with their status.
func BuzzHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := lobbyCode(r)
		status, st, err := e.Buzz(r.Context(), code, extractPlayerID(r, code))
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, buzzResponse{Status: status, State: st})
	}
}

// LeaveHandler removes the player and forgets their cookie.
func LeaveHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := lobbyCode(r)
		if err := e.Leave(r.Context(), code, extractPlayerID(r, code)); err != nil {
			writeError(w, logger, r, err)
			return
		}
		clearSessionCookie(w, playerCookieName(code))
		writeJSON(w, http.StatusOK, map[string]string{"status": "left", "redirect": "/"})
	}
}

type hostAction func(w http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error)

// hostActionHandler wraps a host-only engine call that answers with the host snapshot.
func hostActionHandler(logger logrus.FieldLogger, action hostAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := lobbyCode(r)
		token, _ := extractHostToken(r, code)
		st, err := action(w, r, code, token)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// LockHandler closes the buzzers.
func LockHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(_ http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		return e.Lock(r.Context(), code, token)
	})
}

// UnlockHandler reopens the buzzers.
func UnlockHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(_ http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		return e.Unlock(r.Context(), code, token)
	})
}

// ResetHandler clears the queue for the next question.
func ResetHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(_ http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		return e.Reset(r.Context(), code, token)
	})
}

// SetQuestionHandler sets the value of the current question.
func SetQuestionHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(w http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		var req questionRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		if req.Value == nil {
			return nil, fmt.Errorf("%w: missing value", buzzer.ErrInvalidInput)
		}
		return e.SetQuestionValue(r.Context(), code, token, *req.Value)
	})
}

// ConfirmHandler selects which queued player answers.
func ConfirmHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(w http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		var req confirmRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		if req.PlayerID == "" {
			return nil, fmt.Errorf("%w: missing player_id", buzzer.ErrInvalidInput)
		}
		return e.ConfirmActive(r.Context(), code, token, req.PlayerID)
	})
}

// ResolveHandler scores the active player.
func ResolveHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return hostActionHandler(logger, func(w http.ResponseWriter, r *http.Request, code, token string) (*buzzer.State, error) {
		var req resolveRequest
		if err := decodeBody(w, r, &req); err != nil {
			return nil, err
		}
		action, err := buzzer.ParseResolveAction(req.Action)
		if err != nil {
			return nil, err
		}
		return e.Resolve(r.Context(), code, token, action)
	})
}

// CloseLobbyHandler deletes the lobby.
func CloseLobbyHandler(logger logrus.FieldLogger, e *buzzer.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := lobbyCode(r)
		token, _ := extractHostToken(r, code)
		if err := e.Close(r.Context(), code, token); err != nil {
			writeError(w, logger, r, err)
			return
		}
		clearSessionCookie(w, hostCookieName(code))
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}
