package session

import (
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
	"github.com/kirillkom/document-scan-service/internal/core/ports"
)

// Command-path messages. Every mutation of session state goes through
// the mailbox, so the command path and the background extraction task
// never touch the same fields concurrently.

type startMsg struct {
	ownerID      string
	sources      []string
	instructions string
	reply        chan error
}

type cancelMsg struct {
	ownerID string
	reply   chan error
}

type resetMsg struct {
	reply chan error
}

type statusMsg struct {
	reply chan domain.StatusSnapshot
}

type connectMsg struct {
	conn  ports.ObserverConn
	reply chan error
}

// Progress messages posted by the extraction task. Each carries the run
// id it belongs to; messages from a superseded run are dropped.

type fragmentMsg struct {
	runID uint64
	text  string
}

type pageStartMsg struct {
	runID      uint64
	pageNumber int
	totalPages int
}

type pageCompleteMsg struct {
	runID      uint64
	pageNumber int
	totalPages int
	text       string
}

type runDoneMsg struct {
	runID     uint64
	finalText string
	elapsed   time.Duration
	err       error
}
