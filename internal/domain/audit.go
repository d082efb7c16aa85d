package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditAction string

const (
	AuditActionCreated               AuditAction = "created"
	AuditActionFunded                AuditAction = "funded"
	AuditActionReleased              AuditAction = "released"
	AuditActionRefunded              AuditAction = "refunded"
	AuditActionFrozen                AuditAction = "frozen"
	AuditActionUnfrozen              AuditAction = "unfrozen"
	AuditActionDisputed              AuditAction = "disputed"
	AuditActionResolved              AuditAction = "resolved"
	AuditActionEmergencyRelease      AuditAction = "emergency_release"
	AuditActionManualAdjustment      AuditAction = "manual_adjustment"
	AuditActionNoteAdded             AuditAction = "note_added"
	AuditActionComplianceUpdated     AuditAction = "compliance_updated"
	AuditActionAutoReleaseConfigured AuditAction = "auto_release_configured"
)

type AuditOutcome string

const (
	AuditOutcomeSucceeded AuditOutcome = "succeeded"
	AuditOutcomeRejected  AuditOutcome = "rejected"
)

// AuditEntry is immutable once appended.
type AuditEntry struct {
	ID          string
	EscrowID    string
	Action      AuditAction
	Amount      *decimal.Decimal
	PerformedBy string
	Reason      string
	Outcome     AuditOutcome
	Metadata    map[string]any
	Timestamp   time.Time
}
