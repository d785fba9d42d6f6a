package domain

type CommandAction string

const (
	ActionStart  CommandAction = "start"
	ActionCancel CommandAction = "cancel"
	ActionReset  CommandAction = "reset"
)

// ScanCommand is an administrative command delivered over the command
// bus. It maps 1:1 onto a scan session operation.
type ScanCommand struct {
	ID           string        `json:"id"`
	Action       CommandAction `json:"action"`
	DocumentID   string        `json:"document_id"`
	OwnerID      string        `json:"owner_id,omitempty"`
	Sources      []string      `json:"sources,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
}
