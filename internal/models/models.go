package models

import "time"

type GenerationType string

const (
	GenerationImage GenerationType = "image"
	GenerationVideo GenerationType = "video"
)

type TransactionKind string

const (
	TransactionDeduct TransactionKind = "deduct"
	TransactionRefund TransactionKind = "refund"
	TransactionTopUp  TransactionKind = "topup"
)

type CreditBalance struct {
	UserID    string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreditTransaction is one journal row. Amount is signed: deductions are
// negative.
type CreditTransaction struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	Kind           TransactionKind `json:"kind"`
	Amount         int             `json:"amount"`
	IdempotencyKey string          `json:"-"`
	Reference      string          `json:"reference"`
	CreatedAt      time.Time       `json:"created_at"`
}

type GenerationMetadata struct {
	Type           GenerationType `json:"type"`
	Model          string         `json:"model"`
	CreditsUsed    int            `json:"credits_used"`
	ImageSize      string         `json:"image_size,omitempty"`
	InferenceSteps int            `json:"inference_steps,omitempty"`
	OriginalURL    string         `json:"original_url,omitempty"`
	Duration       string         `json:"duration,omitempty"`
	Resolution     string         `json:"resolution,omitempty"`
	Audio          *bool          `json:"audio,omitempty"`
}

// Generation is a persisted result. MediaURL is serialised as image_url for
// both images and videos, which is what gallery clients read.
type Generation struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Prompt      string             `json:"prompt"`
	Style       string             `json:"style"`
	AspectRatio string             `json:"aspect_ratio"`
	MediaURL    string             `json:"image_url"`
	StoragePath string             `json:"storage_path"`
	Metadata    GenerationMetadata `json:"metadata"`
	CreatedAt   time.Time          `json:"created_at"`
}
