// Package payment wraps Stripe Checkout: session creation, retrieval and
// webhook verification. Callers see only the types declared here.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrSessionNotFound is returned when Stripe has no session with the id.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// Event types the reconciliation flow acts on.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
)

// Metadata keys attached to every checkout session.
const (
	MetadataUserID  = "userId"
	MetadataPriceID = "priceId"
)

type CheckoutRequest struct {
	UserID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID      string
	URL     string
	UserID  string
	PriceID string
	Paid    bool
}

type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

type Gateway struct {
	api           *client.API
	webhookSecret string
}

// Option configures Gateway.
type Option func(*stripe.BackendConfig)

// WithBackendURL points the API client at another host, such as a stub.
func WithBackendURL(url string) Option {
	return func(c *stripe.BackendConfig) { c.URL = stripe.String(url) }
}

func NewGateway(secretKey, webhookSecret string, opts ...Option) *Gateway {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Gateway{api: api, webhookSecret: webhookSecret}
}

// CreateCheckout opens a one-off payment session for a single price.
func (g *Gateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	params.AddMetadata(MetadataPriceID, req.PriceID)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return toSession(s), nil
}

// GetCheckout retrieves a session by id.
func (g *Gateway) GetCheckout(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return toSession(s), nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw payload and
// decodes the event. Session is set for checkout.session.* events.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Type == EventCheckoutCompleted || evt.Type == EventCheckoutAsyncPaymentSuccess {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = toSession(&s)
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:  s.ID,
		URL: s.URL,
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
	if s.Metadata != nil {
		out.UserID = s.Metadata[MetadataUserID]
		out.PriceID = s.Metadata[MetadataPriceID]
	}
	return out
}
