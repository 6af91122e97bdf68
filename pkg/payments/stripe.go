package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/pkg/metrics"
)

// StripeGateway maps the gateway onto manual-capture PaymentIntents.
type StripeGateway struct {
	sc *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc}
}

func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		metrics.PaymentCalls.WithLabelValues("authorize", "error").Inc()
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	metrics.PaymentCalls.WithLabelValues("authorize", "ok").Inc()
	return &Authorization{IntentID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID, idempotencyKey string) error {
	pi, err := g.get(ctx, intentID)
	if err != nil {
		return err
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		return nil
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	if _, err := g.sc.PaymentIntents.Capture(intentID, params); err != nil {
		metrics.PaymentCalls.WithLabelValues("capture", "error").Inc()
		return fmt.Errorf("capture payment intent %s: %w", intentID, err)
	}
	metrics.PaymentCalls.WithLabelValues("capture", "ok").Inc()
	return nil
}

func (g *StripeGateway) Release(ctx context.Context, intentID, idempotencyKey string) error {
	pi, err := g.get(ctx, intentID)
	if err != nil {
		return err
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusCanceled:
		return nil
	case stripe.PaymentIntentStatusSucceeded:
		params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)
		if _, err := g.sc.Refunds.New(params); err != nil {
			metrics.PaymentCalls.WithLabelValues("refund", "error").Inc()
			return fmt.Errorf("refund payment intent %s: %w", intentID, err)
		}
		metrics.PaymentCalls.WithLabelValues("refund", "ok").Inc()
	case stripe.PaymentIntentStatusProcessing:
		return fmt.Errorf("payment intent %s is still processing", intentID)
	default:
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		params.SetIdempotencyKey(idempotencyKey)
		if _, err := g.sc.PaymentIntents.Cancel(intentID, params); err != nil {
			metrics.PaymentCalls.WithLabelValues("cancel", "error").Inc()
			return fmt.Errorf("cancel payment intent %s: %w", intentID, err)
		}
		metrics.PaymentCalls.WithLabelValues("cancel", "ok").Inc()
	}

	logger.InfoContext(ctx, "Payment released", "intent_id", intentID, "prior_status", pi.Status)
	return nil
}

func (g *StripeGateway) get(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", intentID, err)
	}
	return pi, nil
}
