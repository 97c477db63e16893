package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/events"
	"github.com/travelpay/backend/internal/models"
	"github.com/travelpay/backend/internal/repositories"
	"github.com/travelpay/backend/internal/services"
)

type fakeStore struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*models.Subscription
	triggered int
}

func newFakeStore(subs ...*models.Subscription) *fakeStore {
	s := &fakeStore{subs: make(map[uuid.UUID]*models.Subscription)}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, repositories.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *fakeStore) ListActive(ctx context.Context) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.Status == models.SubscriptionStatusActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.Status != from {
		return false, nil
	}
	sub.Status = to
	return true, nil
}

func (s *fakeStore) RecordCheck(ctx context.Context, id uuid.UUID, matched bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		sub.LastValueMatched = matched
	}
	return nil
}

func (s *fakeStore) RecordTriggered(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered++
	return nil
}

func (s *fakeStore) status(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id].Status
}

type fakeLedger struct {
	mu      sync.Mutex
	balance decimal.Decimal
	debits  int
	refunds int
}

func (l *fakeLedger) Debit(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance.LessThan(amount) {
		return repositories.ErrInsufficientFunds
	}
	l.balance = l.balance.Sub(amount)
	l.debits++
	return nil
}

func (l *fakeLedger) Refund(ctx context.Context, wallet string, amount decimal.Decimal, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	l.refunds++
	return nil
}

func (l *fakeLedger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debits, l.refunds
}

func (l *fakeLedger) bal() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

func (l *fakeLedger) topUp(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
}

// fakeProvider serves a scripted sequence of wait times, repeating the last
// value once the script runs out.
type fakeProvider struct {
	mu     sync.Mutex
	script []float64
	pos    int
}

func (p *fakeProvider) Fetch(ctx context.Context, target string, params map[string]string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.script[p.pos]
	if p.pos < len(p.script)-1 {
		p.pos++
	}
	return map[string]any{
		"crossing":          "San Ysidro",
		"wait_time_minutes": v,
		"status":            "Open",
	}, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(data any) (*models.SignedEnvelope, error) {
	return &models.SignedEnvelope{
		Data:           data,
		DataHash:       "hash",
		Timestamp:      time.Now().Unix(),
		Signature:      "sig",
		ProviderPubkey: "pubkey",
	}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	return nil
}

func testSubscription(expiry time.Duration) *models.Subscription {
	return &models.Subscription{
		ID:          uuid.New(),
		OwnerWallet: "EQDownerownerowner",
		Target:      "border_wait",
		Params:      map[string]any{"crossing": "San Ysidro"},
		Condition:   models.Condition{Field: "wait_time_minutes", Op: models.OpLT, Value: float64(20)},
		WebhookURL:  "",
		Status:      models.SubscriptionStatusActive,
		ExpiresAt:   time.Now().Add(expiry),
	}
}

func startEngine(t *testing.T, store *fakeStore, ledger *fakeLedger, p *fakeProvider, deliverer Deliverer, refundOnFailure bool) *Engine {
	t.Helper()
	eng := NewEngine(store, ledger, p, fakeSigner{}, deliverer, nopPublisher{}, Config{
		CheckInterval:           10 * time.Millisecond,
		NotificationPrice:       decimal.RequireFromString("0.20"),
		RefundOnDeliveryFailure: refundOnFailure,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	return eng
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestEngineFiresOnEdge(t *testing.T) {
	var mu sync.Mutex
	var delivered []models.SignedEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-TravelPay-Signature") == "" {
			t.Error("missing signature header")
		}
		var env models.SignedEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		mu.Lock()
		delivered = append(delivered, env)
		mu.Unlock()
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.NewFromInt(10)}
	// below threshold: fires once, stays matched, no refire
	p := &fakeProvider{script: []float64{15, 15, 15}}

	startEngine(t, store, ledger, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	})

	// several more ticks with the condition still true must not refire
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := len(delivered)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("delivered %d notifications for one edge, want 1", n)
	}
	if debits, _ := ledger.counts(); debits != 1 {
		t.Errorf("debits = %d, want 1", debits)
	}
	if store.status(sub.ID) != models.SubscriptionStatusActive {
		t.Errorf("triggered subscription must stay active, got %s", store.status(sub.ID))
	}
}

func TestEngineRefiresAfterConditionClears(t *testing.T) {
	var mu sync.Mutex
	deliveries := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.NewFromInt(10)}
	// matches, clears, matches again: two edges
	p := &fakeProvider{script: []float64{15, 30, 10, 10}}

	startEngine(t, store, ledger, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries == 2
	})
}

func TestEngineSkipsChargeWhenBroke(t *testing.T) {
	var mu sync.Mutex
	deliveries := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.Zero}
	p := &fakeProvider{script: []float64{15}}

	startEngine(t, store, ledger, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := deliveries
	mu.Unlock()
	if n != 0 {
		t.Fatalf("delivered %d notifications with empty balance, want 0", n)
	}
	if store.status(sub.ID) != models.SubscriptionStatusActive {
		t.Errorf("subscription must survive a failed charge, got %s", store.status(sub.ID))
	}
}

func TestEngineRetriesChargeAfterTopUp(t *testing.T) {
	var mu sync.Mutex
	deliveries := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.Zero}
	// stays below threshold the whole time
	p := &fakeProvider{script: []float64{15}}

	startEngine(t, store, ledger, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	// let a few charges fail with an empty balance first
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := deliveries
	mu.Unlock()
	if n != 0 {
		t.Fatalf("delivered %d notifications with empty balance, want 0", n)
	}

	// funds arrive while the condition is still true
	ledger.topUp(decimal.NewFromInt(10))

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries == 1
	})
	if debits, _ := ledger.counts(); debits != 1 {
		t.Errorf("debits = %d, want 1", debits)
	}
}

type brokenSigner struct{}

func (brokenSigner) Sign(data any) (*models.SignedEnvelope, error) {
	return nil, errors.New("key unavailable")
}

func TestEngineRefundsUnsignedNotification(t *testing.T) {
	var mu sync.Mutex
	deliveries := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.NewFromInt(1)}
	p := &fakeProvider{script: []float64{15}}

	eng := NewEngine(store, ledger, p, brokenSigner{}, services.NewWebhookClient(time.Second, zap.NewNop()), nopPublisher{}, Config{
		CheckInterval:     10 * time.Millisecond,
		NotificationPrice: decimal.RequireFromString("0.20"),
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("engine start: %v", err)
	}

	// every tick retries: charge, fail to sign, refund
	waitFor(t, 2*time.Second, func() bool {
		debits, refunds := ledger.counts()
		return debits >= 2 && refunds == debits
	})
	if got := ledger.bal(); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("balance = %s after refunds, want 1", got)
	}
	mu.Lock()
	n := deliveries
	mu.Unlock()
	if n != 0 {
		t.Errorf("delivered %d unsigned notifications, want 0", n)
	}
}

func TestEngineRefundsFailedDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := testSubscription(time.Hour)
	sub.WebhookURL = srv.URL
	store := newFakeStore(sub)
	ledger := &fakeLedger{balance: decimal.NewFromInt(1)}
	p := &fakeProvider{script: []float64{15}}

	startEngine(t, store, ledger, p, services.NewWebhookClient(time.Second, zap.NewNop()), true)

	waitFor(t, 2*time.Second, func() bool {
		debits, refunds := ledger.counts()
		return debits == 1 && refunds == 1
	})
	if got := ledger.bal(); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("balance = %s after refund, want 1", got)
	}
}

func TestEngineExpiresSubscription(t *testing.T) {
	sub := testSubscription(30 * time.Millisecond)
	store := newFakeStore(sub)
	p := &fakeProvider{script: []float64{100}} // never matches

	eng := startEngine(t, store, &fakeLedger{}, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	waitFor(t, 2*time.Second, func() bool {
		return store.status(sub.ID) == models.SubscriptionStatusExpired
	})
	waitFor(t, 2*time.Second, func() bool {
		return !eng.Watching(sub.ID)
	})
}

func TestEngineControlEvents(t *testing.T) {
	store := newFakeStore()
	p := &fakeProvider{script: []float64{100}}
	eng := startEngine(t, store, &fakeLedger{}, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	sub := testSubscription(time.Hour)
	sub.WebhookURL = "http://localhost:1"
	store.mu.Lock()
	store.subs[sub.ID] = sub
	store.mu.Unlock()

	ctx := context.Background()
	eng.HandleEvent(ctx, events.Event{
		Type:    events.EventSubscriptionCreated,
		Payload: map[string]any{"subscription_id": sub.ID.String()},
	})
	if !eng.Watching(sub.ID) {
		t.Fatal("created subscription is not being watched")
	}

	eng.HandleEvent(ctx, events.Event{
		Type:    events.EventSubscriptionCancelled,
		Payload: map[string]any{"subscription_id": sub.ID.String()},
	})
	waitFor(t, 2*time.Second, func() bool {
		return !eng.Watching(sub.ID)
	})
}

func TestEngineResyncReconcilesWatches(t *testing.T) {
	store := newFakeStore()
	p := &fakeProvider{script: []float64{100}}
	eng := startEngine(t, store, &fakeLedger{}, p, services.NewWebhookClient(time.Second, zap.NewNop()), false)

	// appeared in the database without a control event
	missed := testSubscription(time.Hour)
	missed.WebhookURL = "http://localhost:1"
	store.mu.Lock()
	store.subs[missed.ID] = missed
	store.mu.Unlock()

	if err := eng.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !eng.Watching(missed.ID) {
		t.Fatal("resync did not pick up the new subscription")
	}

	// cancelled in the database without a control event
	store.mu.Lock()
	store.subs[missed.ID].Status = models.SubscriptionStatusCancelled
	store.mu.Unlock()

	if err := eng.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return !eng.Watching(missed.ID)
	})
}
