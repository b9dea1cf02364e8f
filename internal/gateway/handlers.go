package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/stream"
)

func newMessageID() string { return uuid.New().String() }

// handleHealth reports liveness plus a few operational details.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Agents:  s.agentNames,
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
}

// handleChat runs one turn and streams it back as SSE. Every response,
// including one for an unparsable body, is a well-formed stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	decodeErr := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req)

	out, err := stream.NewSSEWriter(w, req.ConversationID)
	if err != nil {
		s.log.Error().Err(err).Msg("streaming unsupported by response writer")
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}

	if decodeErr != nil {
		s.log.Debug().Err(decodeErr).Msg("unparsable chat request")
		out.Send(domain.Fail(domain.ErrMalformedRequest, ""))
		return
	}

	s.recordUserMessage(&req)
	outcome := s.turns.Handle(r.Context(), req, out)
	s.log.Debug().
		Str("conversationId", req.ConversationID).
		Str("state", string(outcome.State)).
		Bool("disconnected", outcome.Disconnected).
		Msg("chat turn finished")
}

// handleAttachment stores upload metadata as the pending attachment.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "attachments are not configured")
		return
	}
	var up AttachmentUpload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&up); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(up.ConversationID) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "conversationId is required")
		return
	}
	if up.FileID == "" && up.FileURL == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "fileId or fileUrl is required")
		return
	}

	meta := domain.AttachmentMetadata{
		AttachmentRef: domain.AttachmentRef{
			FileID:   up.FileID,
			FileURL:  up.FileURL,
			MimeType: up.MimeType,
			Filename: up.Filename,
		},
		ExtractedData: up.ExtractedData,
		UploadedAt:    time.Now().UTC(),
	}
	if err := s.attachments.PutAttachment(r.Context(), up.ConversationID, meta); err != nil {
		s.log.Error().Err(err).Str("conversationId", up.ConversationID).Msg("storing attachment failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "could not store attachment")
		return
	}
	s.log.Info().
		Str("conversationId", up.ConversationID).
		Str("fileId", up.FileID).
		Int("extracted", len(up.ExtractedData)).
		Msg("attachment registered")
	writeJSON(w, http.StatusCreated, meta)
}

// handleMessages returns recent history for one conversation. Unknown
// conversations yield an empty list.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "history is not configured")
		return
	}
	id := r.PathValue("id")
	limit, err := parseLimit(r.URL.Query().Get("limit"), s.historyMax)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	msgs, err := s.history.RecentHistory(r.Context(), id, limit)
	if err != nil {
		s.log.Error().Err(err).Str("conversationId", id).Msg("reading history failed")
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "conversation history is unavailable")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ConversationID: id, Messages: msgs})
}

var errBadLimit = errors.New("limit must be a positive integer")

func parseLimit(raw string, max int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}
