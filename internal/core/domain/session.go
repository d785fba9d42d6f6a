package domain

import "time"

type ScanStatus string

const (
	StatusPending    ScanStatus = "pending"
	StatusProcessing ScanStatus = "processing"
	StatusCompleted  ScanStatus = "completed"
	StatusFailed     ScanStatus = "failed"
	StatusCancelled  ScanStatus = "cancelled"
)

// IsTerminal reports whether no further chunk events can follow.
func (s ScanStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PageBreakMarker joins per-page text in multi-page results. It is
// explicit so a client can split the final text back into pages.
const PageBreakMarker = "\n\n--- Page Break ---\n\n"

// MaxErrorMessageLen bounds persisted and broadcast error messages.
const MaxErrorMessageLen = 500

type ScanSession struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Status          ScanStatus `json:"status"`
	AccumulatedText string     `json:"accumulated_text,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`

	Pages            []string `json:"pages,omitempty"`
	CurrentPageIndex int      `json:"current_page_index"`
	TotalPages       int      `json:"total_pages"`

	CancelRequested bool `json:"-"`

	StartedAt        time.Time `json:"started_at,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScanUpdate is a partial update applied to the durable session row.
// Nil fields are left untouched.
type ScanUpdate struct {
	Status           *ScanStatus
	Text             *string
	ErrorMessage     *string
	ProcessingTimeMs *int64
	TotalPages       *int
	StartedAt        *time.Time
}

// StatusSnapshot is the read-only view returned by GetStatus.
type StatusSnapshot struct {
	ID         string     `json:"id"`
	Status     ScanStatus `json:"status"`
	Processing bool       `json:"processing"`
	TextLength int        `json:"text_length"`
	ElapsedMs  int64      `json:"elapsed_ms"`
	TotalPages int        `json:"total_pages"`
}

// TruncateErrorMessage bounds msg to MaxErrorMessageLen bytes.
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen]
}
