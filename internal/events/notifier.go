package events

import "github.com/lancachetools/cacheops/internal/ops"

// Notifier adapts an Emitter to the registry's notification contract so the
// ops package stays free of event types.
type Notifier struct {
	emitter Emitter
}

// NewNotifier wraps the emitter (usually a Hub).
func NewNotifier(emitter Emitter) *Notifier {
	return &Notifier{emitter: emitter}
}

// OperationStarted implements ops.Notifier.
func (n *Notifier) OperationStarted(snap ops.Snapshot) {
	n.emitter.Emit(FromSnapshot(TypeStarted, snap))
}

// OperationProgress implements ops.Notifier.
func (n *Notifier) OperationProgress(snap ops.Snapshot) {
	n.emitter.Emit(FromSnapshot(TypeProgress, snap))
}

// OperationCompleted implements ops.Notifier.
func (n *Notifier) OperationCompleted(snap ops.Snapshot) {
	n.emitter.Emit(FromSnapshot(TypeCompleted, snap))
}
