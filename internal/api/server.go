package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/genstudio/internal/auth"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/service"
)

// maxWebhookBody bounds the raw Stripe payload read before verification.
const maxWebhookBody = 1 << 16

type Generator interface {
	GenerateImage(ctx context.Context, userID string, req service.ImageRequest) (*service.ImageResult, error)
	GenerateVideo(ctx context.Context, userID string, req service.VideoRequest) (*service.VideoResult, error)
}

type Gallery interface {
	List(ctx context.Context, userID string) ([]models.Generation, error)
	Delete(ctx context.Context, userID, id string) error
}

type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

type Payments interface {
	CreateCheckout(ctx context.Context, userID, priceID string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	ConfirmCheckout(ctx context.Context, userID, sessionID string) (int, error)
}

type Server struct {
	addr       string
	log        *slog.Logger
	generation Generator
	gallery    Gallery
	ledger     Ledger
	payments   Payments
	router     *chi.Mux
}

func NewServer(addr string, log *slog.Logger, verifier *auth.Verifier, generation Generator, gallery Gallery, ledger Ledger, payments Payments) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		log:        log,
		generation: generation,
		gallery:    gallery,
		ledger:     ledger,
		payments:   payments,
		router:     r,
	}

	r.Get("/healthz", s.handleHealth)
	// Stripe authenticates with its signature, never with a bearer token.
	r.Post("/api/stripe-webhook", s.handleStripeWebhook)
	r.Group(func(api chi.Router) {
		api.Use(auth.Middleware(verifier, log))
		api.Post("/api/generate", s.handleGenerateImage)
		api.Post("/api/generate-video", s.handleGenerateVideo)
		api.Get("/api/generations", s.handleListGenerations)
		api.Delete("/api/generations/{id}", s.handleDeleteGeneration)
		api.Get("/api/credits", s.handleCredits)
		api.Get("/api/credits/history", s.handleCreditHistory)
		api.Post("/api/create-checkout-session", s.handleCreateCheckout)
		api.Post("/api/update-credits", s.handleUpdateCredits)
	})
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Video generation polls the provider for minutes.
		WriteTimeout: 10 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type generateImageRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	AspectRatio string `json:"aspectRatio"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		s.writeError(w, r, service.ErrUnauthorized)
		return
	}
	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid json", service.ErrInvalidInput))
		return
	}

	res, err := s.generation.GenerateImage(r.Context(), userID, service.ImageRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"images":       []imageURL{{URL: res.URL}},
			"original_url": res.OriginalURL,
			"model":        res.Model,
			"credits_used": res.CreditsUsed,
		},
	})
}

type generateVideoRequest struct {
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspectRatio"`
	Duration      string `json:"duration"`
	GenerateAudio bool   `json:"generateAudio"`
	Model         string `json:"model"`
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		s.writeError(w, r, service.ErrUnauthorized)
		return
	}
	var req generateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid json", service.ErrInvalidInput))
		return
	}

	res, err := s.generation.GenerateVideo(r.Context(), userID, service.VideoRequest{
		Prompt:        req.Prompt,
		AspectRatio:   req.AspectRatio,
		Duration:      req.Duration,
		Model:         req.Model,
		GenerateAudio: req.GenerateAudio,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"video":        imageURL{URL: res.URL},
			"aspect_ratio": res.AspectRatio,
			"duration":     res.Duration,
			"resolution":   res.Resolution,
			"audio":        res.Audio,
			"model":        res.Model,
			"credits_used": res.CreditsUsed,
		},
	})
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	list, err := s.gallery.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"generations": list},
	})
}

func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.gallery.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		s.writeJSON(w, http.StatusOK, map[string]int{"credits": 0})
		return
	}
	credits, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", service.ErrInvalidInput, raw))
			return
		}
		limit = n
	}
	txs, err := s.ledger.History(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"transactions": txs},
	})
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		s.writeError(w, r, service.ErrUnauthorized)
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid json", service.ErrInvalidInput))
		return
	}
	url, err := s.payments.CreateCheckout(r.Context(), userID, req.PriceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %w", service.ErrInvalidInput, err))
		return
	}
	if err := s.payments.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type updateCreditsRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleUpdateCredits(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		s.writeError(w, r, service.ErrUnauthorized)
		return
	}
	var req updateCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid json", service.ErrInvalidInput))
		return
	}
	credits, err := s.payments.ConfirmCheckout(r.Context(), userID, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "newCredits": credits})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Only client errors carry
// their message; server errors are logged and answered generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": rle.Error()})
		return
	}
	var ice *service.InsufficientCreditsError
	if errors.As(err, &ice) {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": ice.Error()})
		return
	}

	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		s.log.Error("api handler error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		msg = publicMessage(err)
	case status == http.StatusUnauthorized:
		msg = "Unauthorized"
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnknownPlan),
		errors.Is(err, service.ErrMissingMetadata),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrPaymentIncomplete):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrInsufficientCredits),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrRefundFailed):
		return "Generation failed and the refund is pending, please contact support"
	case errors.Is(err, service.ErrRemoteGenerationFailed):
		return "Generation failed, your credits were refunded"
	case errors.Is(err, service.ErrPersistenceFailed):
		return "Failed to save generation, your credits were refunded"
	default:
		return "Internal server error"
	}
}
