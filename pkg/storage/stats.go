package storage

import "sync/atomic"

// Stats counts writes and drops for one feature. It is shared by the live
// and provisional writers of the feature.
type Stats struct {
	written         atomic.Int64
	droppedCapacity atomic.Int64
	droppedEncoding atomic.Int64
	droppedStorage  atomic.Int64
	droppedConsent  atomic.Int64
}

// StatsSnapshot is a copy of Stats.
type StatsSnapshot struct {
	Written         int64 `json:"written"`
	DroppedCapacity int64 `json:"dropped_capacity"`
	DroppedEncoding int64 `json:"dropped_encoding"`
	DroppedStorage  int64 `json:"dropped_storage"`
	DroppedConsent  int64 `json:"dropped_consent"`
}

// Dropped is the total of all drop counters.
func (s StatsSnapshot) Dropped() int64 {
	return s.DroppedCapacity + s.DroppedEncoding + s.DroppedStorage + s.DroppedConsent
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Written:         s.written.Load(),
		DroppedCapacity: s.droppedCapacity.Load(),
		DroppedEncoding: s.droppedEncoding.Load(),
		DroppedStorage:  s.droppedStorage.Load(),
		DroppedConsent:  s.droppedConsent.Load(),
	}
}
