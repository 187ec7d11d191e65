package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/genstudio/internal/models"
)

// galleryLimit caps List; there is no pagination.
const galleryLimit = 50

type GalleryService struct {
	records GenerationStore
	media   MediaStore
	log     *slog.Logger
}

func NewGalleryService(records GenerationStore, media MediaStore, log *slog.Logger) *GalleryService {
	return &GalleryService{records: records, media: media, log: log}
}

// List returns the caller's newest generations.
func (s *GalleryService) List(ctx context.Context, userID string) ([]models.Generation, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	list, err := s.records.ListByUser(ctx, userID, galleryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return list, nil
}

// Delete removes one of the caller's generations. The stored object is
// removed best-effort; the record removal decides the outcome.
func (s *GalleryService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUnauthorized
	}
	if id == "" {
		return fmt.Errorf("%w: generation id is required", ErrInvalidInput)
	}

	g, err := s.records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if g == nil {
		return fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	if g.UserID != userID {
		return fmt.Errorf("generation %s: %w", id, ErrForbidden)
	}

	if g.StoragePath != "" {
		if err := s.media.Delete(ctx, g.StoragePath); err != nil {
			s.log.Warn("delete stored object", "generation_id", id, "key", g.StoragePath, "err", err)
		}
	}

	removed, err := s.records.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !removed {
		return fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	s.log.Info("generation deleted", "user_id", userID, "generation_id", id)
	return nil
}
