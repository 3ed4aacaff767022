package metrics

import "time"

// HubObserver tracks broadcast listeners and deliveries.
type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush(msgType string)
	RecordDrop()
}

// SyncObserver tracks queue drains.
type SyncObserver interface {
	ObserveSync(trigger string, synced, failed, deadLettered int, elapsed time.Duration)
	RecordEnqueue(kind string)
	SetQueueDepth(pending, failed int64)
}
