package status

import (
	"time"

	"github.com/zeroinbox/mailscrub/internal/rotation"
)

// HubNotifier forwards scheduler lifecycle events to the hub. Every
// method queues without blocking, so the scheduler never waits on a
// slow dashboard client.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier wraps a hub as a rotation.Notifier.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// RotationStarted announces a rotation beginning.
func (n *HubNotifier) RotationStarted(rotationNumber, batchSize int) {
	n.hub.BroadcastEvent(Event{
		Type:      EventTypeRotationStarted,
		Timestamp: time.Now(),
		Rotation:  rotationNumber,
		Data: RotationStartedEvent{
			Rotation:  rotationNumber,
			BatchSize: batchSize,
		},
	})
}

// SourceAdvanced reports a source contributing records to a rotation.
func (n *HubNotifier) SourceAdvanced(rotationNumber int, source string, offset, pulled int) {
	n.hub.BroadcastEvent(Event{
		Type:      EventTypeSourceAdvanced,
		Timestamp: time.Now(),
		Rotation:  rotationNumber,
		Data: SourceAdvancedEvent{
			Rotation: rotationNumber,
			Source:   source,
			Offset:   offset,
			Pulled:   pulled,
		},
	})
}

// RotationCompleted publishes the result of a finished rotation.
func (n *HubNotifier) RotationCompleted(result rotation.Result) {
	n.hub.BroadcastEvent(Event{
		Type:      EventTypeRotationCompleted,
		Timestamp: time.Now(),
		Rotation:  result.Rotation,
		Data:      result,
	})
}
