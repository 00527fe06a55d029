package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/RepLog/internal/models"
)

// messageRequest is the body of POST /messages.
type messageRequest struct {
	MessageID   string `json:"message_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body"`
	ProfileName string `json:"profile_name"`
}

// messageResult is the result of POST /messages.
type messageResult struct {
	Response  string           `json:"response"`
	Success   bool             `json:"success"`
	Reason    models.ErrorKind `json:"reason,omitempty"`
	Duplicate bool             `json:"duplicate"`
}

// messagesHandler processes one message synchronously and returns the reply
// instead of sending it through a transport.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.From) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: from"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: body"))
		return
	}

	res, dup, err := s.inbox.Process(r.Context(), models.InboundMessage{
		MessageID:   req.MessageID,
		From:        req.From,
		To:          req.To,
		Body:        req.Body,
		ProfileName: req.ProfileName,
		Time:        time.Now().Unix(),
	})
	if err != nil {
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrEmptyBody) {
			slog.Warn("Server.messagesHandler: invalid message", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.messagesHandler: failed to process message", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Debug("Server.messagesHandler: processed", "duplicate", dup, "success", res.Success, "reason", res.Reason)
	writeJSONResponse(w, http.StatusOK, models.Success(messageResult{
		Response:  res.Response,
		Success:   res.Success,
		Reason:    res.Reason,
		Duplicate: dup,
	}))
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
