package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/message"
	"github.com/vanish-chat/vanish/internal/room"
)

type joinRequest struct {
	Code string `json:"code"`
}

type postMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.ctrl.CreateRoom(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"roomId":   rm.ID,
		"joinCode": rm.JoinCode,
	})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request")
		return
	}

	// A returning member may already hold a token; re-presenting it makes
	// the join idempotent instead of burning the second member slot.
	candidate := s.auth.FromRequest(r).Token

	roomID, token, err := s.ctrl.JoinByCode(r.Context(), req.Code, candidate, clientAddr(r))
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNotFound):
			writeErrorCode(w, http.StatusNotFound, "invalid_or_expired_code")
		case errors.Is(err, room.ErrRoomFull):
			writeErrorCode(w, http.StatusConflict, "room_full")
		default:
			s.writeError(w, err)
		}
		return
	}

	s.setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"roomId": roomID})
}

func (s *Server) handleEnterRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeErrorCode(w, http.StatusBadRequest, "missing_room_id")
		return
	}
	candidate := s.auth.FromRequest(r).Token

	token, err := s.ctrl.EnterRoom(r.Context(), roomID, candidate)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrNotFound):
			writeErrorCode(w, http.StatusNotFound, "room_not_found")
		case errors.Is(err, room.ErrRoomFull):
			writeErrorCode(w, http.StatusConflict, "room_full")
		default:
			s.writeError(w, err)
		}
		return
	}

	s.setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"roomId": roomID})
}

func (s *Server) handleReadTTL(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity(r)
	if err != nil {
		// An unauthorized or absent room reads as already expired. Storage
		// failures are a different thing and must not masquerade as expiry.
		if errors.Is(err, auth.ErrUnauthorized) {
			writeJSON(w, http.StatusOK, map[string]int64{"ttl": 0})
			return
		}
		s.writeError(w, err)
		return
	}

	ttl, err := s.ctrl.ReadTTL(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"ttl": ttl})
}

func (s *Server) handleDestroyRoom(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity(r)
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := s.ctrl.DestroyRoom(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity(r)
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request")
		return
	}

	msg, err := s.ctrl.PostMessage(r.Context(), id, req.Sender, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity(r)
	if err != nil {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	msgs, err := s.ctrl.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]message.Message{"messages": msgs})
}

// handleInspectRoom dumps a room's raw stored state, membership tokens
// included. Only mounted when Config.EnableDebug is set.
func (s *Server) handleInspectRoom(w http.ResponseWriter, r *http.Request) {
	insp, err := s.ctrl.Inspect(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insp)
}

// clientAddr returns the caller's address without the port, for per-address
// throttling. The RealIP middleware has already folded proxy headers into
// RemoteAddr.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// identity resolves the caller's credential for the room named in the query.
func (s *Server) identity(r *http.Request) (*auth.Identity, error) {
	roomID := r.URL.Query().Get("roomId")
	cred := s.auth.FromRequest(r)
	return s.auth.Resolve(r.Context(), roomID, cred)
}

// writeError maps the error taxonomy onto status codes for paths that have
// no operation-specific mapping.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, room.ErrRoomFull):
		writeErrorCode(w, http.StatusConflict, "room_full")
	case errors.Is(err, room.ErrNotFound), errors.Is(err, message.ErrRoomNotFound):
		writeErrorCode(w, http.StatusNotFound, "room_not_found")
	case errors.Is(err, message.ErrInvalid):
		writeErrorCode(w, http.StatusBadRequest, "invalid_message")
	case errors.Is(err, lifecycle.ErrRateLimited):
		writeErrorCode(w, http.StatusTooManyRequests, "rate_limited")
	default:
		log.Printf("[httpapi] storage error: %v", err)
		writeErrorCode(w, http.StatusServiceUnavailable, "storage_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
