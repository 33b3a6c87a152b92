package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// intentAPI is the subset of *paymentintent.Client the gateway uses.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway charges saved cards off-session with PaymentIntents.
type StripeGateway struct {
	intents intentAPI
}

// NewStripeGateway creates a gateway using the given secret key.
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{
		intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

// Charge implements Gateway. The transaction id is sent as the idempotency
// key, so retrying a charge never debits the borrower twice.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(fmt.Sprintf("Loan %d repayment", req.LoanID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.TransactionID)
	params.AddMetadata("loan_id", strconv.FormatInt(req.LoanID, 10))
	params.AddMetadata("transaction_id", req.TransactionID)

	intent, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			result := &ChargeResult{Status: ChargeFailed, FailureReason: declineReason(stripeErr)}
			if stripeErr.PaymentIntent != nil {
				result.GatewayRef = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return nil, fmt.Errorf("stripe charge failed: %w", err)
	}

	return fromIntent(intent), nil
}

// Lookup implements Gateway.
func (g *StripeGateway) Lookup(ctx context.Context, gatewayRef string) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.intents.Get(gatewayRef, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", gatewayRef, err)
	}
	return fromIntent(intent), nil
}

func fromIntent(intent *stripe.PaymentIntent) *ChargeResult {
	result := &ChargeResult{GatewayRef: intent.ID}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		result.Status = ChargeFailed
		result.FailureReason = string(intent.Status)
		if intent.LastPaymentError != nil {
			result.FailureReason = declineReason(intent.LastPaymentError)
		}
	case stripe.PaymentIntentStatusRequiresAction:
		// Off-session charges cannot complete customer authentication.
		result.Status = ChargeFailed
		result.FailureReason = "authentication_required"
	default:
		result.Status = ChargeProcessing
	}

	return result
}

func declineReason(err *stripe.Error) string {
	if err.DeclineCode != "" {
		return string(err.DeclineCode)
	}
	if err.Code != "" {
		return string(err.Code)
	}
	return err.Msg
}
