package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/contracts"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

const NotificationEventType = "notification.requested"

// Notifier hands user notifications to the notification service through the
// broker. Delivery failures are logged and never surface to the caller.
type Notifier struct {
	logger    *slog.Logger
	publisher ports.EventPublisher
	timeout   time.Duration
}

func NewNotifier(logger *slog.Logger, publisher ports.EventPublisher, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger, publisher: publisher, timeout: timeout}
}

func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) {
	if msg.UserID == "" {
		return
	}
	payload, err := json.Marshal(contracts.NotificationMessage{
		Kind:       string(msg.Kind),
		UserID:     msg.UserID,
		Title:      msg.Title,
		Message:    msg.Message,
		Data:       msg.Data,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		n.logFailure(ctx, msg, err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(pctx, NotificationEventType, payload, msg.UserID); err != nil {
		n.logFailure(ctx, msg, err)
	}
}

func (n *Notifier) logFailure(ctx context.Context, msg domain.Notification, err error) {
	n.logger.WarnContext(ctx, "notification dropped",
		"module", "events.notifier",
		"layer", "adapter",
		"operation", "notify",
		"outcome", "failure",
		"kind", string(msg.Kind),
		"user_id", msg.UserID,
		"error", err,
	)
}

var _ ports.Notifier = (*Notifier)(nil)
