package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/genstudio/internal/fal"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/notify"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/ratelimit"
)

// GenerationService runs the paid generation transaction: validate, rate
// check, credit check, deduct, remote call, persist. Every failure after the
// deduction refunds the attempt before the error is returned.
type GenerationService struct {
	log       *slog.Logger
	ledger    *LedgerService
	limiter   ratelimit.Limiter
	generator Generator
	media     MediaStore
	records   GenerationStore
	pricing   pricing.Table
	notifier  notify.Notifier
	newID     func() string
	now       func() time.Time
}

type ImageRequest struct {
	Prompt      string
	Model       string
	AspectRatio string
}

type ImageResult struct {
	URL         string
	OriginalURL string
	Model       string
	CreditsUsed int
	Generation  *models.Generation
}

type VideoRequest struct {
	Prompt        string
	AspectRatio   string
	Duration      string
	Model         string
	GenerateAudio bool
}

type VideoResult struct {
	URL         string
	AspectRatio string
	Duration    string
	Resolution  string
	Audio       bool
	Model       string
	CreditsUsed int
	Generation  *models.Generation
}

func NewGenerationService(log *slog.Logger, ledger *LedgerService, limiter ratelimit.Limiter, generator Generator, media MediaStore, records GenerationStore, table pricing.Table, notifier notify.Notifier) *GenerationService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &GenerationService{
		log:       log,
		ledger:    ledger,
		limiter:   limiter,
		generator: generator,
		media:     media,
		records:   records,
		pricing:   table,
		notifier:  notifier,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// attempt is one charged generation, identified for refund idempotency.
type attempt struct {
	id     string
	userID string
	kind   models.GenerationType
	cost   int
}

func (s *GenerationService) GenerateImage(ctx context.Context, userID string, req ImageRequest) (*ImageResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	model := s.pricing.ImageModel(req.Model)
	aspect := pricing.NormalizeImageAspect(req.AspectRatio)
	imageSize := pricing.ImageSize(aspect)

	// The charge and the remote call must finish even if the client leaves.
	ctx = context.WithoutCancel(ctx)

	a, err := s.charge(ctx, userID, ratelimit.ClassImage, models.GenerationImage, model.Name, model.Cost)
	if err != nil {
		return nil, err
	}

	img, err := s.generator.GenerateImage(ctx, fal.ImageRequest{
		Endpoint:       model.Endpoint,
		Prompt:         prompt,
		ImageSize:      imageSize,
		InferenceSteps: model.InferenceSteps,
	})
	if err != nil {
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: %w", ErrRemoteGenerationFailed, err))
	}

	data, contentType, err := s.generator.Download(ctx, img.URL)
	if err != nil {
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: download result: %w", ErrPersistenceFailed, err))
	}
	if img.ContentType != "" && !strings.HasPrefix(contentType, "image/") {
		contentType = img.ContentType
	}
	key, url, err := s.media.Upload(ctx, userID, data, contentType)
	if err != nil {
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}

	gen := &models.Generation{
		ID:          s.newID(),
		UserID:      userID,
		Prompt:      prompt,
		Style:       model.Name,
		AspectRatio: aspect,
		MediaURL:    url,
		StoragePath: key,
		Metadata: models.GenerationMetadata{
			Type:           models.GenerationImage,
			Model:          model.Endpoint,
			CreditsUsed:    model.Cost,
			ImageSize:      imageSize,
			InferenceSteps: model.InferenceSteps,
			OriginalURL:    img.URL,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.Create(ctx, gen); err != nil {
		if delErr := s.media.Delete(ctx, key); delErr != nil {
			s.log.Warn("remove orphaned object", "key", key, "err", delErr)
		}
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}

	s.log.Info("image generated", "user_id", userID, "attempt_id", a.id, "model", model.Name, "credits", model.Cost, "generation_id", gen.ID)
	return &ImageResult{
		URL:         url,
		OriginalURL: img.URL,
		Model:       model.Endpoint,
		CreditsUsed: model.Cost,
		Generation:  gen,
	}, nil
}

func (s *GenerationService) GenerateVideo(ctx context.Context, userID string, req VideoRequest) (*VideoResult, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	ratio, ok := pricing.VideoAspectRatio(req.AspectRatio)
	if !ok {
		return nil, fmt.Errorf("%w: invalid aspect ratio %q, supported: %s, %s", ErrInvalidInput, req.AspectRatio, pricing.AspectLandscape, pricing.AspectPortrait)
	}
	model := s.pricing.VideoModel(req.Model)
	cost, ok := model.Cost(req.Duration, req.GenerateAudio)
	if !ok {
		return nil, fmt.Errorf("%w: invalid duration %q, supported: %s", ErrInvalidInput, req.Duration, strings.Join(model.SupportedDurations(), ", "))
	}

	ctx = context.WithoutCancel(ctx)

	a, err := s.charge(ctx, userID, ratelimit.ClassVideo, models.GenerationVideo, model.Name, cost)
	if err != nil {
		return nil, err
	}

	video, err := s.generator.GenerateVideo(ctx, fal.VideoRequest{
		Endpoint:      model.Endpoint,
		Prompt:        prompt,
		AspectRatio:   ratio,
		Duration:      req.Duration,
		Resolution:    model.Resolution,
		GenerateAudio: req.GenerateAudio,
	})
	if err != nil {
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: %w", ErrRemoteGenerationFailed, err))
	}

	audio := req.GenerateAudio
	gen := &models.Generation{
		ID:          s.newID(),
		UserID:      userID,
		Prompt:      prompt,
		Style:       "video-" + model.Name,
		AspectRatio: ratio,
		MediaURL:    video.URL,
		Metadata: models.GenerationMetadata{
			Type:        models.GenerationVideo,
			Model:       model.Endpoint,
			CreditsUsed: cost,
			Duration:    req.Duration,
			Resolution:  model.Resolution,
			Audio:       &audio,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.records.Create(ctx, gen); err != nil {
		return nil, s.rollback(ctx, a, fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}

	s.log.Info("video generated", "user_id", userID, "attempt_id", a.id, "model", model.Name, "credits", cost, "generation_id", gen.ID)
	return &VideoResult{
		URL:         video.URL,
		AspectRatio: ratio,
		Duration:    req.Duration,
		Resolution:  model.Resolution,
		Audio:       audio,
		Model:       model.Endpoint,
		CreditsUsed: cost,
		Generation:  gen,
	}, nil
}

// charge runs the rate check, the credit check and the atomic deduction.
// Nothing is charged when it returns an error.
func (s *GenerationService) charge(ctx context.Context, userID string, class ratelimit.Class, kind models.GenerationType, model string, cost int) (*attempt, error) {
	decision, err := s.limiter.Allow(ctx, class, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrStoreUnavailable, err)
	}
	if !decision.Allowed {
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, &InsufficientCreditsError{Kind: string(kind), Model: model, Required: cost, Available: balance}
	}

	a := &attempt{id: s.newID(), userID: userID, kind: kind, cost: cost}
	if _, err := s.ledger.Deduct(ctx, userID, cost, a.id, string(kind)+":"+model); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			// Lost a race with a concurrent deduction.
			return nil, &InsufficientCreditsError{Kind: string(kind), Model: model, Required: cost, Available: balance}
		}
		return nil, err
	}
	return a, nil
}

// rollback refunds the attempt and returns cause. A failed refund is logged,
// reported to operators and joined to cause as ErrRefundFailed.
func (s *GenerationService) rollback(ctx context.Context, a *attempt, cause error) error {
	s.log.Warn("generation failed, refunding", "user_id", a.userID, "attempt_id", a.id, "credits", a.cost, "err", cause)

	ctx = context.WithoutCancel(ctx)
	if _, _, err := s.ledger.Refund(ctx, a.userID, a.cost, a.id, string(a.kind)+" failed"); err != nil {
		s.log.Error("refund failed", "user_id", a.userID, "attempt_id", a.id, "credits", a.cost, "err", err)
		alert := fmt.Sprintf("Refund failed: user=%s attempt=%s credits=%d err=%v", a.userID, a.id, a.cost, err)
		if nerr := s.notifier.Notify(ctx, alert); nerr != nil {
			s.log.Warn("ops alert not delivered", "attempt_id", a.id, "err", nerr)
		}
		return errors.Join(cause, ErrRefundFailed)
	}
	return cause
}
