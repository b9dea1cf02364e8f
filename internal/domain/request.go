package domain

import "strings"

// ChatRequest is the inbound request for one conversational turn.
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	Message        string `json:"message"`
	ExplicitIntent string `json:"explicitIntent,omitempty"`
	SelectedAgent  string `json:"selectedAgent,omitempty"`
	FileID         string `json:"fileId,omitempty"`
	FileURL        string `json:"fileUrl,omitempty"`

	// MessageID is the id under which the gateway recorded this turn's
	// user message. History entries with it are the current turn.
	MessageID string `json:"-"`
}

// Attachment returns the file reference carried on the request, or nil.
func (r ChatRequest) Attachment() *AttachmentRef {
	if r.FileID == "" && r.FileURL == "" {
		return nil
	}
	return &AttachmentRef{FileID: r.FileID, FileURL: r.FileURL}
}

// Override returns the intent forced by the caller, if any.
// A selected agent takes priority over an explicit intent.
func (r ChatRequest) Override() (Intent, bool, error) {
	if r.SelectedAgent != "" {
		i, err := IntentForAgent(r.SelectedAgent)
		if err != nil {
			return "", false, err
		}
		return i, true, nil
	}
	if r.ExplicitIntent != "" {
		i, err := ParseIntent(r.ExplicitIntent)
		if err != nil {
			return "", false, err
		}
		return i, true, nil
	}
	return "", false, nil
}

// Validate checks the request shape. Failures are MalformedRequest errors.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return Errorf(ErrMalformedRequest, "conversationId is required")
	}
	_, forced, err := r.Override()
	if err != nil {
		return WrapError(ErrMalformedRequest, err)
	}
	if strings.TrimSpace(r.Message) == "" && r.Attachment() == nil && !forced {
		return Errorf(ErrMalformedRequest, "message is empty")
	}
	return nil
}

// RequestContext is everything an agent needs to answer one turn.
// It lives only for the duration of the request.
type RequestContext struct {
	ConversationID string
	UserID         string
	RawMessage     string
	Intent         Intent
	History        []Message
	Attachment     *AttachmentMetadata
	Degraded       []ErrorKind
}

// LastUserMessage returns the most recent user turn in history, or "".
func (c *RequestContext) LastUserMessage() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == RoleUser {
			return c.History[i].Content
		}
	}
	return ""
}
