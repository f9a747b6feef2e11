package storage

import (
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/metrics"
)

// ConsentAwareWriter routes each write by the consent in force: granted to
// the live directory, pending to the provisional one, not granted nowhere.
type ConsentAwareWriter struct {
	gate        *consent.Gate
	granted     Writer
	provisional Writer
	stats       *Stats
	rec         *metrics.FeatureRecorder
}

// NewConsentAwareWriter builds the routing writer.
func NewConsentAwareWriter(gate *consent.Gate, granted, provisional Writer, stats *Stats, rec *metrics.FeatureRecorder) *ConsentAwareWriter {
	if stats == nil {
		stats = &Stats{}
	}
	return &ConsentAwareWriter{gate: gate, granted: granted, provisional: provisional, stats: stats, rec: rec}
}

// Write holds the gate for the duration of the write so a consent change
// waits for it to finish.
func (w *ConsentAwareWriter) Write(ev Event) error {
	state, release := w.gate.Hold()
	defer release()
	return w.WriteAs(state, ev)
}

// WriteAs writes under a state the caller already holds.
func (w *ConsentAwareWriter) WriteAs(state consent.State, ev Event) error {
	switch state {
	case consent.Granted:
		return w.granted.Write(ev)
	case consent.Pending:
		return w.provisional.Write(ev)
	default:
		w.stats.droppedConsent.Add(1)
		w.rec.Dropped(metrics.ReasonConsent)
		return nil
	}
}

// Scoped returns a Writer pinned to state, for use while the caller holds
// the gate.
func (w *ConsentAwareWriter) Scoped(state consent.State) Writer {
	return scopedWriter{w: w, state: state}
}

type scopedWriter struct {
	w     *ConsentAwareWriter
	state consent.State
}

func (s scopedWriter) Write(ev Event) error { return s.w.WriteAs(s.state, ev) }
