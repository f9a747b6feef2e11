package storage

import (
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/logger"
)

// Migrator resolves the provisional area of one feature on consent change.
// It runs under the gate's exclusive lock, so no write is in flight.
type Migrator struct {
	feature     string
	live        *Orchestrator
	provisional *Orchestrator
}

// NewMigrator returns a migrator moving from provisional into live.
func NewMigrator(feature string, live, provisional *Orchestrator) *Migrator {
	return &Migrator{feature: feature, live: live, provisional: provisional}
}

// ConsentChanged implements consent.Subscriber. Only transitions out of
// pending touch data; granted and not granted never affect written files.
func (m *Migrator) ConsentChanged(from, to consent.State) {
	if from != consent.Pending {
		return
	}
	switch to {
	case consent.Granted:
		_, _ = m.MoveLeftovers()
	case consent.NotGranted:
		n, err := m.provisional.Purge()
		if err != nil {
			logger.Error("consent_purge_failed", "feature", m.feature, "deleted", n, "error", err)
			return
		}
		logger.Info("consent_provisional_purged", "feature", m.feature, "files", n)
	}
}

// PurgeProvisional drops leftovers of a previous process.
func (m *Migrator) PurgeProvisional() (int, error) {
	return m.provisional.Purge()
}

// MoveLeftovers moves whatever is still in the provisional area into the
// live one. The caller must hold the gate in the granted state, so nothing
// is being written to the provisional area.
func (m *Migrator) MoveLeftovers() (int, error) {
	n, err := m.provisional.MoveAllTo(m.live)
	if err != nil {
		logger.Error("consent_migration_failed", "feature", m.feature, "moved", n, "error", err)
		return n, err
	}
	if n > 0 {
		logger.Info("consent_provisional_moved", "feature", m.feature, "files", n)
	}
	return n, nil
}
