package domain

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// AttachmentRef points at a previously uploaded file.
type AttachmentRef struct {
	FileID   string `json:"fileId,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Empty reports whether the reference names no file.
func (a *AttachmentRef) Empty() bool {
	return a == nil || (a.FileID == "" && a.FileURL == "")
}

// AttachmentMetadata is what the upload step recorded about a file,
// including any fields extracted from it (e.g. an AWB read by OCR).
type AttachmentMetadata struct {
	AttachmentRef
	ExtractedData map[string]string `json:"extractedData,omitempty"`
	UploadedAt    time.Time         `json:"uploadedAt"`
}

// Extracted returns a single extracted field, or "".
func (m *AttachmentMetadata) Extracted(key string) string {
	if m == nil {
		return ""
	}
	return m.ExtractedData[key]
}

// Message is a single turn in a conversation. Messages are written once
// and never mutated.
type Message struct {
	ID         string          `json:"id,omitempty"`
	Role       Role            `json:"role"`
	Agent      AgentTag        `json:"agent,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	Content    string          `json:"content"`
	Attachment *AttachmentRef  `json:"attachment,omitempty"`
	Payload    json.RawMessage `json:"structuredPayload,omitempty"`
	Truncated  bool            `json:"truncated,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Conversation is an ordered, append-only sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}
