package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/digkill/genstudio/internal/fal"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/payment"
	"github.com/digkill/genstudio/internal/pricing"
	"github.com/digkill/genstudio/internal/ratelimit"
	"github.com/digkill/genstudio/internal/repository"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCredits struct {
	mu        sync.Mutex
	balances  map[string]int
	keys      map[string]bool
	journal   []models.CreditTransaction
	getErr    error
	deductErr error
	refundErr error
	topUpErr  error
	txErr     error
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{balances: map[string]int{}, keys: map[string]bool{}}
}

func (f *fakeCredits) set(userID string, credits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] = credits
}

func (f *fakeCredits) balance(userID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[userID]
	return b, ok
}

func (f *fakeCredits) Get(_ context.Context, userID string) (*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.balances[userID]
	if !ok {
		return nil, nil
	}
	return &models.CreditBalance{UserID: userID, Credits: b}, nil
}

func (f *fakeCredits) Ensure(_ context.Context, userID string, initial int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[userID]; ok {
		return false, nil
	}
	f.balances[userID] = initial
	return true, nil
}

func (f *fakeCredits) Deduct(_ context.Context, userID string, amount int, key, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deductErr != nil {
		return 0, f.deductErr
	}
	b, ok := f.balances[userID]
	if !ok || b < amount {
		return 0, repository.ErrInsufficientCredits
	}
	if f.keys[key] {
		return 0, fmt.Errorf("duplicate key %s", key)
	}
	f.keys[key] = true
	f.balances[userID] = b - amount
	f.record(userID, models.TransactionDeduct, -amount, key)
	return b - amount, nil
}

func (f *fakeCredits) Refund(_ context.Context, userID string, amount int, key, _ string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return 0, false, f.refundErr
	}
	if f.keys[key] {
		return f.balances[userID], false, nil
	}
	f.keys[key] = true
	f.balances[userID] += amount
	f.record(userID, models.TransactionRefund, amount, key)
	return f.balances[userID], true, nil
}

func (f *fakeCredits) TopUp(_ context.Context, userID string, amount, initial int, key, _ string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topUpErr != nil {
		return 0, false, f.topUpErr
	}
	if _, ok := f.balances[userID]; !ok {
		f.balances[userID] = initial
	}
	if f.keys[key] {
		return f.balances[userID], false, nil
	}
	f.keys[key] = true
	f.balances[userID] += amount
	f.record(userID, models.TransactionTopUp, amount, key)
	return f.balances[userID], true, nil
}

// record appends to the journal; callers hold mu.
func (f *fakeCredits) record(userID string, kind models.TransactionKind, amount int, key string) {
	f.journal = append(f.journal, models.CreditTransaction{
		ID:             int64(len(f.journal) + 1),
		UserID:         userID,
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: key,
	})
}

func (f *fakeCredits) Transactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txErr != nil {
		return nil, f.txErr
	}
	var out []models.CreditTransaction
	for i := len(f.journal) - 1; i >= 0 && len(out) < limit; i-- {
		if f.journal[i].UserID == userID {
			out = append(out, f.journal[i])
		}
	}
	return out, nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	deny    bool
	err     error
	calls   int
	classes []ratelimit.Class
}

func (f *fakeLimiter) Allow(_ context.Context, class ratelimit.Class, _ string) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.classes = append(f.classes, class)
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	if f.deny {
		return ratelimit.Decision{Allowed: false, RetryAfter: 4 * time.Second}, nil
	}
	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

type fakeGenerator struct {
	mu          sync.Mutex
	image       *fal.Image
	imageErr    error
	video       *fal.Video
	videoErr    error
	data        []byte
	contentType string
	downloadErr error
	imageReqs   []fal.ImageRequest
	videoReqs   []fal.VideoRequest
	ctxErrs     []error
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		image:       &fal.Image{URL: "https://fal.media/result.png", ContentType: "image/png"},
		video:       &fal.Video{URL: "https://fal.media/result.mp4"},
		data:        []byte("png"),
		contentType: "image/png",
	}
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, req fal.ImageRequest) (*fal.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageReqs = append(f.imageReqs, req)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return f.image, nil
}

func (f *fakeGenerator) GenerateVideo(ctx context.Context, req fal.VideoRequest) (*fal.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoReqs = append(f.videoReqs, req)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	return f.video, nil
}

func (f *fakeGenerator) Download(context.Context, string) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.data, f.contentType, nil
}

type fakeMedia struct {
	mu        sync.Mutex
	objects   map[string]bool
	deleted   []string
	uploadErr error
	deleteErr error
	seq       int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: map[string]bool{}}
}

func (f *fakeMedia) Upload(_ context.Context, userID string, _ []byte, _ string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", "", f.uploadErr
	}
	f.seq++
	key := fmt.Sprintf("generations/%s/%d.png", userID, f.seq)
	f.objects[key] = true
	return key, "https://cdn.example.com/" + key, nil
}

func (f *fakeMedia) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

type fakeRecords struct {
	mu        sync.Mutex
	items     map[string]models.Generation
	createErr error
	listErr   error
	getErr    error
	deleteErr error
	lastLimit int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{items: map[string]models.Generation{}}
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeRecords) Create(_ context.Context, g *models.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.items[g.ID] = *g
	return nil
}

func (f *fakeRecords) ListByUser(_ context.Context, userID string, limit int) ([]models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []models.Generation{}
	for _, g := range f.items {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	g, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *fakeRecords) Delete(_ context.Context, id, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	g, ok := f.items[id]
	if !ok || g.UserID != userID {
		return false, nil
	}
	delete(f.items, id)
	return true, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*payment.CheckoutSession
	event     *payment.Event
	parseErr  error
	createErr error
	created   []payment.CheckoutRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*payment.CheckoutSession{}}
}

func (f *fakeGateway) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("cs_%d", len(f.created))
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (f *fakeGateway) GetCheckout(_ context.Context, sessionID string) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (f *fakeGateway) ParseWebhook([]byte, string) (*payment.Event, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

// testPricing is the default table plus three purchasable plans.
func testPricing() pricing.Table {
	t := pricing.Default()
	t.Plans = []pricing.Plan{
		{PriceID: "price_10", Credits: 10},
		{PriceID: "price_50", Credits: 50},
		{PriceID: "price_250", Credits: 250},
	}
	return t
}

type testEnv struct {
	credits    *fakeCredits
	limiter    *fakeLimiter
	generator  *fakeGenerator
	media      *fakeMedia
	records    *fakeRecords
	gateway    *fakeGateway
	notifier   *fakeNotifier
	ledger     *LedgerService
	generation *GenerationService
	gallery    *GalleryService
	payments   *PaymentService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		credits:   newFakeCredits(),
		limiter:   &fakeLimiter{},
		generator: newFakeGenerator(),
		media:     newFakeMedia(),
		records:   newFakeRecords(),
		gateway:   newFakeGateway(),
		notifier:  &fakeNotifier{},
	}
	log := discardLogger()
	table := testPricing()
	env.ledger = NewLedgerService(env.credits, 2, log)
	env.generation = NewGenerationService(log, env.ledger, env.limiter, env.generator, env.media, env.records, table, env.notifier)
	env.gallery = NewGalleryService(env.records, env.media, log)
	env.payments = NewPaymentService(env.gateway, env.ledger, table, env.limiter, "https://app.example.com/", log)
	return env
}
