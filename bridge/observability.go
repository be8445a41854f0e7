package bridge

import (
	"sync"
)

// StepEvent is one bridge lifecycle event. Start and end events for the same
// logical step share a correlation identifier.
type StepEvent struct {
	// CorrelationID ties a start event to its end event.
	CorrelationID string
	// Step is the logical step name, e.g. "session.open" or "tool.call".
	Step string
	// ToolName is set for per-tool steps.
	ToolName string
	// Transport is the transport binding in use.
	Transport TransportKind
	// Source describes the remote endpoint.
	Source string
	// Input and Output are snapshots of the step's payloads, when available.
	Input  any
	Output any
	// DurationMS is set on end events.
	DurationMS int64
	// Success and ErrorText are set on end events.
	Success   bool
	ErrorText string
}

// Observer receives bridge lifecycle events. Implementations must not block;
// the bridge behaves identically whether or not an observer is installed.
type Observer interface {
	ObserveStart(event StepEvent)
	ObserveEnd(event StepEvent)
}

type noopObserver struct{}

func (noopObserver) ObserveStart(StepEvent) {}
func (noopObserver) ObserveEnd(StepEvent)   {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver installs the process-wide bridge observer. Passing nil restores
// the no-op observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func emitStart(event StepEvent) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveStart(event)
}

func emitEnd(event StepEvent) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveEnd(event)
}
