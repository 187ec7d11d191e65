package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/digkill/genstudio/internal/api"
	"github.com/digkill/genstudio/internal/auth"
	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/fal"
	"github.com/digkill/genstudio/internal/notify"
	"github.com/digkill/genstudio/internal/payment"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/ratelimit"
	"github.com/digkill/genstudio/internal/repository"
	"github.com/digkill/genstudio/internal/service"
	"github.com/digkill/genstudio/internal/storage"
	"github.com/digkill/genstudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	table, err := pricing.Load(cfg.PricingConfigPath)
	if err != nil {
		log.Fatalf("pricing: %v", err)
	}

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logr)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}
	defer closeLimiter()

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramOpsChatID, logr)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		notifier = tg
	}

	falClient := fal.NewClient(cfg, logr)
	gateway := payment.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	creditRepo := repository.NewCreditRepository(db, dialect)
	generationRepo := repository.NewGenerationRepository(db)

	ledger := service.NewLedgerService(creditRepo, cfg.StartingCredits, logr)
	generation := service.NewGenerationService(logr, ledger, limiter, falClient, uploader, generationRepo, table, notifier)
	gallery := service.NewGalleryService(generationRepo, uploader, logr)
	payments := service.NewPaymentService(gateway, ledger, table, limiter, cfg.AppBaseURL, logr)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	server := api.NewServer(cfg.HTTPListenAddr, logr, verifier, generation, gallery, ledger, payments)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}

// newLimiter uses Redis when REDIS_URL is set so every replica shares the
// windows; otherwise counts stay in process.
func newLimiter(ctx context.Context, cfg config.Config, logr *slog.Logger) (ratelimit.Limiter, func(), error) {
	rules := ratelimit.Rules{
		ratelimit.ClassImage:   {Limit: cfg.RateLimitImage, Window: cfg.RateWindowImage},
		ratelimit.ClassVideo:   {Limit: cfg.RateLimitVideo, Window: cfg.RateWindowVideo},
		ratelimit.ClassPayment: {Limit: cfg.RateLimitPayment, Window: cfg.RateWindowPayment},
	}
	if err := rules.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.RedisURL == "" {
		logr.Info("rate limiter in memory")
		return ratelimit.NewMemory(rules), func() {}, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logr.Info("rate limiter on redis", "addr", opts.Addr)
	return ratelimit.NewRedis(client, rules), func() { _ = client.Close() }, nil
}
