package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
	CanonicalEventClassOps           = "ops"
)

const (
	EventContractAccepted = "contract.accepted"

	EventEscrowCreated         = "escrow.created"
	EventEscrowFunded          = "escrow.funded"
	EventEscrowFundsReleased   = "escrow.funds_released"
	EventEscrowRefundProcessed = "escrow.refund_processed"
	EventEscrowCompleted       = "escrow.completed"
	EventEscrowFrozen          = "escrow.frozen"
	EventEscrowUnfrozen        = "escrow.unfrozen"
	EventEscrowDisputed        = "escrow.disputed"
	EventEscrowDisputeResolved = "escrow.dispute_resolved"
	EventEscrowFeeAdjusted     = "escrow.fee_adjusted"
)

func IsCanonicalInputEvent(eventType string) bool {
	return eventType == EventContractAccepted
}

func IsCanonicalEmittedEvent(eventType string) bool {
	return CanonicalEventClass(eventType) != ""
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventEscrowCreated, EventEscrowFunded, EventEscrowFundsReleased, EventEscrowRefundProcessed, EventEscrowCompleted:
		return CanonicalEventClassDomain
	case EventEscrowFrozen, EventEscrowUnfrozen, EventEscrowDisputed, EventEscrowDisputeResolved:
		return CanonicalEventClassOps
	case EventEscrowFeeAdjusted:
		return CanonicalEventClassAnalyticsOnly
	default:
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.escrow_id"
	}
	if eventType == EventContractAccepted {
		return "data.contract_id"
	}
	return ""
}

type NotificationKind string

const (
	NotificationEscrowFunded   NotificationKind = "escrow_funded"
	NotificationFundsReleased  NotificationKind = "funds_released"
	NotificationEscrowDisputed NotificationKind = "escrow_disputed"
	NotificationEscrowFrozen   NotificationKind = "escrow_frozen"
	NotificationEscrowRefunded NotificationKind = "escrow_refunded"
)

// Notification is a fire-and-forget message to one user.
type Notification struct {
	Kind    NotificationKind
	UserID  string
	Title   string
	Message string
	Data    map[string]string
}
