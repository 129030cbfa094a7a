package bridge

import (
	"time"

	"cadbridge/internal/onshape"
	"cadbridge/internal/pending"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Status is the upstream HTTP status of a failed call, 0 when none.
	Status int `json:"status,omitempty"`
}

// LoginRequest is the body of POST /api/session.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionResponse describes the current login.
type SessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username,omitempty"`
	SavedAt       time.Time `json:"saved_at,omitempty"`
}

// DocumentsResponse lists documents.
type DocumentsResponse struct {
	Documents []onshape.DocumentSummary `json:"documents"`
}

// ElementsResponse lists the elements of one workspace.
type ElementsResponse struct {
	Elements []onshape.ElementSummary `json:"elements"`
}

// PartsResponse lists the part ids of one element.
type PartsResponse struct {
	PartIDs []string `json:"part_ids"`
}

// ThumbnailResponse carries a resolved image.
type ThumbnailResponse struct {
	Href    string `json:"href"`
	DataURL string `json:"data_url"`
}

// CallsResponse lists in-flight logical calls.
type CallsResponse struct {
	Calls []pending.Snapshot `json:"calls"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Event types pushed over /api/events.
const (
	EventThumbnailLoaded = "thumbnail_loaded"
	EventSessionChanged  = "session_changed"
)

// Event is one WebSocket message.
type Event struct {
	Type      string    `json:"type"`
	Href      string    `json:"href,omitempty"`
	DataURL   string    `json:"data_url,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
