package lifecycle

import "time"

// SystemActor is the user ID recorded for automatic decisions
const SystemActor = "system"

// EventType classifies an audit log entry
type EventType string

const (
	EventStatusChanged  EventType = "status_changed"
	EventStatusOverride EventType = "status_override"
	EventRuleMatched    EventType = "rule_matched"
)

// AuditEntry is an append-only record of a status transition or rule match.
// Entries are created once and never updated or deleted.
type AuditEntry struct {
	ID         string    `json:"id"`
	ReturnID   string    `json:"return_id"`
	TenantID   string    `json:"tenant_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	EventType  EventType `json:"event_type"`
	UserID     string    `json:"user_id"`
	Notes      string    `json:"notes"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRuleMatchEntry records that a rule matched a return without changing
// its status
func (m *Machine) NewRuleMatchEntry(tenantID, returnID string, status Status, ruleID, notes string) AuditEntry {
	return AuditEntry{
		ID:         m.newID(),
		ReturnID:   returnID,
		TenantID:   tenantID,
		FromStatus: status,
		ToStatus:   status,
		EventType:  EventRuleMatched,
		UserID:     SystemActor,
		Notes:      "rule " + ruleID + ": " + notes,
		Timestamp:  m.now(),
	}
}
