package service

import (
	"context"

	"github.com/digkill/genstudio/internal/fal"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/payment"
)

// CreditStore is the durable balance and journal. Implemented by
// repository.CreditRepository.
type CreditStore interface {
	Get(ctx context.Context, userID string) (*models.CreditBalance, error)
	Ensure(ctx context.Context, userID string, initial int) (bool, error)
	Deduct(ctx context.Context, userID string, amount int, key, reference string) (int, error)
	Refund(ctx context.Context, userID string, amount int, key, reference string) (int, bool, error)
	TopUp(ctx context.Context, userID string, amount, initial int, key, reference string) (int, bool, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

// GenerationStore persists generation records. Implemented by
// repository.GenerationRepository.
type GenerationStore interface {
	Create(ctx context.Context, g *models.Generation) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error)
	Get(ctx context.Context, id string) (*models.Generation, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// Generator runs remote generation. Implemented by fal.Client.
type Generator interface {
	GenerateImage(ctx context.Context, req fal.ImageRequest) (*fal.Image, error)
	GenerateVideo(ctx context.Context, req fal.VideoRequest) (*fal.Video, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// MediaStore keeps generated assets durably. Implemented by storage.Uploader.
type MediaStore interface {
	Upload(ctx context.Context, userID string, data []byte, contentType string) (string, string, error)
	Delete(ctx context.Context, key string) error
}

// CheckoutGateway is the payment provider. Implemented by payment.Gateway.
type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*payment.CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*payment.Event, error)
}
