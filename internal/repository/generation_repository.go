package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/genstudio/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create inserts a record. ID and CreatedAt must be set by the caller.
func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	if g.ID == "" {
		return fmt.Errorf("insert generation: id is required")
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("marshal generation metadata: %w", err)
	}

	const query = `
INSERT INTO generations (id, user_id, prompt, style, aspect_ratio, media_url, storage_path, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		g.ID, g.UserID, g.Prompt, g.Style, g.AspectRatio, g.MediaURL, g.StoragePath, string(meta), formatTime(g.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

const generationColumns = `id, user_id, prompt, style, aspect_ratio, media_url, storage_path, metadata, created_at`

// ListByUser returns the newest records first.
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + `
FROM generations WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	out := make([]models.Generation, 0)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// Get returns nil, nil when the record does not exist.
func (r *GenerationRepository) Get(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// Delete removes a record owned by userID and reports whether a row was
// removed.
func (r *GenerationRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	const query = `DELETE FROM generations WHERE id = ? AND user_id = ?`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var (
		g       models.Generation
		meta    string
		created any
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Prompt, &g.Style, &g.AspectRatio, &g.MediaURL, &g.StoragePath, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &g.Metadata); err != nil {
			return nil, fmt.Errorf("decode generation metadata: %w", err)
		}
	}
	var err error
	if g.CreatedAt, err = scanTime(created); err != nil {
		return nil, fmt.Errorf("scan generation created_at: %w", err)
	}
	return &g, nil
}
