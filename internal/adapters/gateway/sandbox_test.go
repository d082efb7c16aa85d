package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

func TestSandboxDeduplicatesOnIdempotencyKey(t *testing.T) {
	t.Parallel()

	sb := NewSandbox()
	req := ports.PaymentIntentRequest{Amount: decimal.NewFromInt(100), Currency: "usd", PaymentMethodRef: SandboxCardOK, IdempotencyKey: "k1"}
	first, err := sb.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := sb.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.Ref, second.Ref)
	require.Equal(t, "USD", first.Currency)
	require.Equal(t, 2, sb.Calls("create_payment_intent"))
}

func TestSandboxPaymentMethodOutcomes(t *testing.T) {
	t.Parallel()

	sb := NewSandbox()
	ctx := context.Background()
	base := ports.PaymentIntentRequest{Amount: decimal.NewFromInt(10), Currency: "USD"}

	base.PaymentMethodRef = SandboxCardRequiresAction
	pending, err := sb.CreatePaymentIntent(ctx, base)
	require.NoError(t, err)
	require.Equal(t, ports.PaymentIntentRequiresAction, pending.Status)
	require.NotEmpty(t, pending.ClientSecret)

	confirmed, err := sb.Confirm(pending.Ref)
	require.NoError(t, err)
	require.True(t, confirmed.Status.Succeeded())

	base.PaymentMethodRef = SandboxCardDeclined
	declined, err := sb.CreatePaymentIntent(ctx, base)
	require.NoError(t, err)
	require.True(t, declined.Status.Failed())

	base.PaymentMethodRef = SandboxGatewayDown
	_, err = sb.CreatePaymentIntent(ctx, base)
	require.True(t, domain.IsRetryableGatewayError(err))
}

func TestSandboxRefundLimits(t *testing.T) {
	t.Parallel()

	sb := NewSandbox()
	ctx := context.Background()
	intent, err := sb.CreatePaymentIntent(ctx, ports.PaymentIntentRequest{Amount: decimal.NewFromInt(100), Currency: "USD", PaymentMethodRef: SandboxCardOK})
	require.NoError(t, err)

	_, err = sb.CreateRefund(ctx, ports.RefundRequest{PaymentIntentRef: intent.Ref, Amount: decimal.NewFromInt(60), IdempotencyKey: "r1"})
	require.NoError(t, err)
	_, err = sb.CreateRefund(ctx, ports.RefundRequest{PaymentIntentRef: intent.Ref, Amount: decimal.NewFromInt(60), IdempotencyKey: "r1"})
	require.NoError(t, err)
	require.True(t, sb.Refunded(intent.Ref).Equal(decimal.NewFromInt(60)))

	_, err = sb.CreateRefund(ctx, ports.RefundRequest{PaymentIntentRef: intent.Ref, Amount: decimal.NewFromInt(60), IdempotencyKey: "r2"})
	require.ErrorIs(t, err, domain.ErrGateway)

	sb.FailRefunds(errors.New("boom"))
	_, err = sb.CreateRefund(ctx, ports.RefundRequest{PaymentIntentRef: intent.Ref, Amount: decimal.NewFromInt(1), IdempotencyKey: "r3"})
	require.Error(t, err)
}
