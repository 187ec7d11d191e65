package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/genstudio/internal/payment"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/ratelimit"
)

// PaymentService turns confirmed Stripe checkouts into ledger credit. Both
// the webhook and the client-confirmed path grant under the checkout session
// id, so a session is credited at most once.
type PaymentService struct {
	gateway CheckoutGateway
	ledger  *LedgerService
	pricing pricing.Table
	limiter ratelimit.Limiter
	baseURL string
	log     *slog.Logger
}

func NewPaymentService(gateway CheckoutGateway, ledger *LedgerService, table pricing.Table, limiter ratelimit.Limiter, baseURL string, log *slog.Logger) *PaymentService {
	if len(table.Plans) == 0 {
		log.Warn("no credit plans configured, checkout and webhooks will reject every price; set PRICING_CONFIG_PATH")
	}
	return &PaymentService{
		gateway: gateway,
		ledger:  ledger,
		pricing: table,
		limiter: limiter,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

// CreateCheckout opens a Stripe Checkout session and returns its URL.
func (s *PaymentService) CreateCheckout(ctx context.Context, userID, priceID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}
	if _, ok := s.pricing.CreditsForPrice(priceID); !ok {
		return "", fmt.Errorf("%w: price %q", ErrUnknownPlan, priceID)
	}
	if err := s.allow(ctx, userID); err != nil {
		return "", err
	}

	session, err := s.gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		UserID:     userID,
		PriceID:    priceID,
		SuccessURL: s.baseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.baseURL + "/pricing",
	})
	if err != nil {
		return "", fmt.Errorf("create checkout: %w", err)
	}
	s.log.Info("checkout session created", "user_id", userID, "price_id", priceID, "session_id", session.ID)
	return session.URL, nil
}

// HandleWebhook verifies and applies a provider event. Events that need no
// action return nil so the provider stops retrying them.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if evt.Session == nil {
		s.log.Debug("ignoring webhook event", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	session := evt.Session
	if session.UserID == "" || session.PriceID == "" {
		s.log.Warn("checkout session without metadata", "event_id", evt.ID, "session_id", session.ID)
		return fmt.Errorf("session %s: %w", session.ID, ErrMissingMetadata)
	}
	if !session.Paid {
		// Delayed payment methods complete later with async_payment_succeeded.
		s.log.Info("checkout completed without payment yet", "event_id", evt.ID, "session_id", session.ID)
		return nil
	}

	balance, applied, err := s.grant(ctx, session)
	if err != nil {
		return err
	}
	s.log.Info("webhook processed", "event_id", evt.ID, "type", evt.Type, "session_id", session.ID, "user_id", session.UserID, "applied", applied, "balance", balance)
	return nil
}

// ConfirmCheckout applies a session the client returned from. It returns the
// balance after the grant, or the current balance if it was already applied.
func (s *PaymentService) ConfirmCheckout(ctx context.Context, userID, sessionID string) (int, error) {
	if userID == "" {
		return 0, ErrUnauthorized
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if err := s.allow(ctx, userID); err != nil {
		return 0, err
	}

	session, err := s.gateway.GetCheckout(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return 0, fmt.Errorf("retrieve checkout: %w", err)
	}
	if !session.Paid {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrPaymentIncomplete)
	}
	if session.UserID != userID {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrForbidden)
	}
	if session.PriceID == "" {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrMissingMetadata)
	}

	balance, applied, err := s.grant(ctx, session)
	if err != nil {
		return 0, err
	}
	s.log.Info("checkout confirmed", "session_id", sessionID, "user_id", userID, "applied", applied, "balance", balance)
	return balance, nil
}

func (s *PaymentService) grant(ctx context.Context, session *payment.CheckoutSession) (int, bool, error) {
	credits, ok := s.pricing.CreditsForPrice(session.PriceID)
	if !ok {
		s.log.Warn("checkout for unknown price", "session_id", session.ID, "price_id", session.PriceID)
		return 0, false, fmt.Errorf("%w: price %q", ErrUnknownPlan, session.PriceID)
	}
	return s.ledger.TopUp(ctx, session.UserID, credits, "checkout:"+session.ID, session.PriceID)
}

func (s *PaymentService) allow(ctx context.Context, userID string) error {
	decision, err := s.limiter.Allow(ctx, ratelimit.ClassPayment, userID)
	if err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrStoreUnavailable, err)
	}
	if !decision.Allowed {
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}
