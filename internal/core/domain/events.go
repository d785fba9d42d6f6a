package domain

// Event is one tagged transport message fanned out to observers.
// Exactly one payload shape exists per Type.
type Event struct {
	Type EventType `json:"type"`

	Status ScanStatus `json:"status,omitempty"`
	Text   string     `json:"text,omitempty"`

	PageNumber int `json:"page_number,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`

	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
	Message          string `json:"message,omitempty"`

	// Dashboard events carry the document the transition belongs to.
	DocumentID string `json:"document_id,omitempty"`
	InFlight   int    `json:"in_flight,omitempty"`
}

type EventType string

const (
	EventConnected    EventType = "connected"
	EventReconnected  EventType = "reconnected"
	EventStatus       EventType = "status"
	EventChunk        EventType = "chunk"
	EventPageStart    EventType = "page-start"
	EventPageComplete EventType = "page-complete"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventCancelled    EventType = "cancelled"

	EventImageUpdate  EventType = "image-update"
	EventNoProcessing EventType = "no-processing"
)
