package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/soyeahso/courier/internal/domain"
)

// Wire types for the HTTP and WebSocket endpoints. Chat turns are answered
// with stream.Record values; everything else uses the shapes below.

// ErrorShape is the body of a non-streaming error response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error ErrorShape `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version,omitempty"`
	Clients int      `json:"clients"`
	Agents  []string `json:"agents,omitempty"`
	Uptime  string   `json:"uptime,omitempty"`
}

// AttachmentUpload registers a file processed by the upload step as the
// conversation's pending attachment.
type AttachmentUpload struct {
	ConversationID string            `json:"conversationId"`
	FileID         string            `json:"fileId"`
	FileURL        string            `json:"fileUrl,omitempty"`
	MimeType       string            `json:"mimeType,omitempty"`
	Filename       string            `json:"filename,omitempty"`
	ExtractedData  map[string]string `json:"extractedData,omitempty"`
}

// MessagesResponse is returned by the conversation history route.
type MessagesResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
}

// Error codes used in ErrorShape.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
	CodeNotFound       = "not_found"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: ErrorShape{Code: code, Message: message}})
}
