package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

// historyLimit caps History when the caller asks for more or for nothing.
const historyLimit = 100

// LedgerService owns every credit balance mutation.
type LedgerService struct {
	credits         CreditStore
	startingCredits int
	log             *slog.Logger
}

func NewLedgerService(credits CreditStore, startingCredits int, log *slog.Logger) *LedgerService {
	return &LedgerService{credits: credits, startingCredits: startingCredits, log: log}
}

// GetBalance returns the user's credits, creating the row with the starting
// grant on first access.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int, error) {
	if err := checkUserID(userID); err != nil {
		return 0, err
	}
	b, err := s.credits.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if b != nil {
		return b.Credits, nil
	}

	created, err := s.credits.Ensure(ctx, userID, s.startingCredits)
	if err != nil {
		return 0, storeError(err)
	}
	if created {
		s.log.Info("credit balance created", "user_id", userID, "credits", s.startingCredits)
	}

	b, err = s.credits.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if b == nil {
		return 0, fmt.Errorf("%w: balance missing after create", ErrStoreUnavailable)
	}
	return b.Credits, nil
}

// Deduct atomically removes amount for one generation attempt.
func (s *LedgerService) Deduct(ctx context.Context, userID string, amount int, attemptID, reference string) (int, error) {
	if err := checkUserID(userID); err != nil {
		return 0, err
	}
	balance, err := s.credits.Deduct(ctx, userID, amount, "deduct:"+attemptID, reference)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			return 0, fmt.Errorf("deduct %d credits: %w", amount, ErrInsufficientCredits)
		}
		return 0, storeError(err)
	}
	return balance, nil
}

// Refund compensates a failed attempt. Repeating it for the same attempt is
// a no-op.
func (s *LedgerService) Refund(ctx context.Context, userID string, amount int, attemptID, reason string) (int, bool, error) {
	balance, applied, err := s.credits.Refund(ctx, userID, amount, "refund:"+attemptID, reason)
	if err != nil {
		return 0, false, storeError(err)
	}
	return balance, applied, nil
}

// TopUp credits a purchase once per grant key.
func (s *LedgerService) TopUp(ctx context.Context, userID string, amount int, grantKey, reference string) (int, bool, error) {
	if err := checkUserID(userID); err != nil {
		return 0, false, err
	}
	balance, applied, err := s.credits.TopUp(ctx, userID, amount, s.startingCredits, "topup:"+grantKey, reference)
	if err != nil {
		return 0, false, storeError(err)
	}
	return balance, applied, nil
}

// History returns the caller's journal, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	txs, err := s.credits.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	if txs == nil {
		txs = []models.CreditTransaction{}
	}
	return txs, nil
}

func checkUserID(userID string) error {
	if len(userID) > repository.MaxUserIDLength {
		return fmt.Errorf("%w: user id longer than %d bytes", ErrInvalidInput, repository.MaxUserIDLength)
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, repository.ErrUserIDTooLong) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
