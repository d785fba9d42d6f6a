package session

import (
	"time"

	"github.com/kirillkom/document-scan-service/internal/core/domain"
)

// Metrics receives scan lifecycle signals. The concrete implementation
// lives in observability; a nop keeps the core testable without it.
type Metrics interface {
	RunStarted()
	RunFinished(status domain.ScanStatus, elapsed time.Duration)
	FragmentStreamed(bytes int)
	ObserverConnected()
	ObserverDropped(count int)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted()                                {}
func (nopMetrics) RunFinished(domain.ScanStatus, time.Duration) {}
func (nopMetrics) FragmentStreamed(int)                       {}
func (nopMetrics) ObserverConnected()                         {}
func (nopMetrics) ObserverDropped(int)                        {}
