// Package remote defines the boundary contracts to the analysis service:
// one chat exchange and one upload exchange. The lifecycle controller
// depends only on the Exchanger interface; the HTTP client here is the
// production implementation.
package remote

import (
	"context"
	"errors"
	"io"
)

// ErrRequestFailed wraps any non-cancellation failure of an exchange.
// Callers are expected to absorb it (the controller turns it into a
// fallback assistant message) rather than show it verbatim.
var ErrRequestFailed = errors.New("remote: request failed")

// ErrValidation is returned when an outbound request fails validation
// before anything is sent.
var ErrValidation = errors.New("remote: invalid request")

// DefaultUserID is used when the caller does not supply a user id.
const DefaultUserID = "default_user"

// ChatRequest is one message sent to the analysis service. FileID binds
// the message to a previously uploaded file and is only valid within the
// session the file was uploaded in.
type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	UserID  string `json:"user_id,omitempty"`
	FileID  string `json:"file_id,omitempty"`
}

// ChatResponse is the service's reply.
type ChatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// UploadResponse describes a stored upload. FileID is the opaque
// reference later chat requests attach.
type UploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// Exchanger is the transport contract the lifecycle controller drives.
type Exchanger interface {
	SendMessage(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	UploadFile(ctx context.Context, filename string, payload io.Reader) (*UploadResponse, error)
}
