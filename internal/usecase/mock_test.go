//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// =============================
// Repositories
// =============================

// ---- Mock IntentRepo ----

type MockIntentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentIntent

	SaveFunc         func(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) error
	MarkResolvedFunc func(ctx context.Context, tx repository.Tx, id string, status model.IntentStatus, resultCode int, receipt *string, raw map[string]interface{}, resolvedAt time.Time) (bool, error)
}

var _ repository.IntentRepository = (*MockIntentRepo)(nil)

func NewMockIntentRepo() *MockIntentRepo {
	return &MockIntentRepo{data: map[string]*model.PaymentIntent{}}
}

func (r *MockIntentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) error {
	if r.SaveFunc != nil {
		if err := r.SaveFunc(ctx, tx, p); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockIntentRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.CheckoutRequestID == checkoutRequestID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockIntentRepo) FindByReceipt(ctx context.Context, tx repository.Tx, receipt string) (*model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.Receipt != nil && *p.Receipt == receipt {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockIntentRepo) MarkResolved(ctx context.Context, tx repository.Tx, id string, status model.IntentStatus, resultCode int, receipt *string, raw map[string]interface{}, resolvedAt time.Time) (bool, error) {
	if r.MarkResolvedFunc != nil {
		return r.MarkResolvedFunc(ctx, tx, id, status, resultCode, receipt, raw, resolvedAt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != model.IntentStatusPending {
		return false, nil
	}
	p.Status = status
	p.ResultCode = &resultCode
	if receipt != nil {
		p.Receipt = receipt
	}
	if raw != nil {
		p.RawResponse = raw
	}
	p.ResolvedAt = &resolvedAt
	p.UpdatedAt = resolvedAt
	return true, nil
}

func (r *MockIntentRepo) SetSubscriptionID(ctx context.Context, tx repository.Tx, id, subscriptionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SubscriptionID = &subscriptionID
	return nil
}

func (r *MockIntentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentIntent
	for _, p := range r.data {
		if p.Status == model.IntentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get returns the stored intent for assertions.
func (r *MockIntentRepo) Get(id string) *model.PaymentIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *MockIntentRepo) snapshot() map[string]*model.PaymentIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*model.PaymentIntent, len(r.data))
	for id, p := range r.data {
		cp := *p
		snap[id] = &cp
	}
	return snap
}

func (r *MockIntentRepo) restore(snap map[string]*model.PaymentIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snap
}

// ---- Mock SubscriptionRepo ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription

	SaveFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		if err := r.SaveFunc(ctx, tx, s); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.CheckoutRequestID != nil && *s.CheckoutRequestID == checkoutRequestID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindLatestPendingByBusinessAndAmount(ctx context.Context, tx repository.Tx, businessID string, amount int64, notBefore time.Time) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.Subscription
	for _, s := range r.data {
		if s.BusinessID != businessID || s.Amount != amount || s.Status != model.SubscriptionStatusPending {
			continue
		}
		if s.CreatedAt.Before(notBefore) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *MockSubscriptionRepo) CountActiveByBusiness(ctx context.Context, tx repository.Tx, businessID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.data {
		if s.BusinessID == businessID && s.Status == model.SubscriptionStatusActive && s.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *MockSubscriptionRepo) Get(id string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (r *MockSubscriptionRepo) snapshot() map[string]*model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*model.Subscription, len(r.data))
	for id, s := range r.data {
		cp := *s
		snap[id] = &cp
	}
	return snap
}

func (r *MockSubscriptionRepo) restore(snap map[string]*model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snap
}

// ---- Mock PlanRepo ----

type MockPlanRepo struct {
	mu   sync.Mutex
	data map[string]*model.BillingPlan
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{data: map[string]*model.BillingPlan{}}
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.BillingPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BillingPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) List(ctx context.Context, tx repository.Tx) ([]*model.BillingPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.BillingPlan
	for _, p := range r.data {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// ---- Mock BusinessRepo ----

type MockBusinessRepo struct {
	mu    sync.Mutex
	data  map[string]*model.Business
	creds map[string]*model.DarajaCredentials
}

var _ repository.BusinessRepository = (*MockBusinessRepo)(nil)

func NewMockBusinessRepo() *MockBusinessRepo {
	return &MockBusinessRepo{data: map[string]*model.Business{}, creds: map[string]*model.DarajaCredentials{}}
}

func (r *MockBusinessRepo) Save(ctx context.Context, tx repository.Tx, b *model.Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.data[b.ID] = &cp
	return nil
}

func (r *MockBusinessRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.data[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockBusinessRepo) FindDarajaCredentials(ctx context.Context, tx repository.Tx, businessID string) (*model.DarajaCredentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[businessID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNoGatewayCredentials
}

func (r *MockBusinessRepo) SaveDarajaCredentials(ctx context.Context, tx repository.Tx, businessID string, creds *model.DarajaCredentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *creds
	r.creds[businessID] = &cp
	return nil
}

func (r *MockBusinessRepo) Get(id string) *model.Business {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.data[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

func (r *MockBusinessRepo) snapshot() map[string]*model.Business {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*model.Business, len(r.data))
	for id, b := range r.data {
		cp := *b
		snap[id] = &cp
	}
	return snap
}

func (r *MockBusinessRepo) restore(snap map[string]*model.Business) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snap
}

// ---- Mock UserRepo ----

type MockUserRepo struct {
	mu   sync.Mutex
	data map[string]*model.User
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{data: map[string]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.data[u.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.data[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) ListAdmins(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.data {
		if u.IsAdmin {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockUserRepo) Get(id string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.data[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (r *MockUserRepo) snapshot() map[string]*model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*model.User, len(r.data))
	for id, u := range r.data {
		cp := *u
		snap[id] = &cp
	}
	return snap
}

func (r *MockUserRepo) restore(snap map[string]*model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snap
}

// ---- Mock ProjectionRepo ----

type MockProjectionRepo struct {
	mu   sync.Mutex
	data map[string]*model.SubscriptionPayment
}

var _ repository.ProjectionRepository = (*MockProjectionRepo)(nil)

func NewMockProjectionRepo() *MockProjectionRepo {
	return &MockProjectionRepo{data: map[string]*model.SubscriptionPayment{}}
}

func (r *MockProjectionRepo) Upsert(ctx context.Context, tx repository.Tx, sp *model.SubscriptionPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sp
	r.data[sp.CheckoutRequestID] = &cp
	return nil
}

func (r *MockProjectionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sp, ok := r.data[checkoutRequestID]; ok {
		cp := *sp
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockProjectionRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.SubscriptionPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SubscriptionPayment
	for _, sp := range r.data {
		cp := *sp
		out = append(out, &cp)
	}
	return out, nil
}

// =============================
// Adapters
// =============================

// ---- Mock StkGateway ----

type MockGateway struct {
	InitiateFunc func(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResult, error)
	QueryFunc    func(ctx context.Context, checkoutRequestID, strategy string, scope adapter.CredentialScope, creds *model.DarajaCredentials) (*adapter.StkQueryResult, error)
}

var _ adapter.StkGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) InitiateStkPush(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResult, error) {
	if g.InitiateFunc != nil {
		return g.InitiateFunc(ctx, req)
	}
	return &adapter.StkPushResult{
		OK:                true,
		CheckoutRequestID: "ws_CO_TEST",
		MerchantRequestID: "mr_TEST",
		Message:           "Success. Request accepted for processing",
		Strategy:          "head_office",
	}, nil
}

func (g *MockGateway) QueryStatus(ctx context.Context, checkoutRequestID, strategy string, scope adapter.CredentialScope, creds *model.DarajaCredentials) (*adapter.StkQueryResult, error) {
	if g.QueryFunc != nil {
		return g.QueryFunc(ctx, checkoutRequestID, strategy, scope, creds)
	}
	return &adapter.StkQueryResult{Pending: true}, nil
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu              sync.Mutex
	OwnerEvents     []adapter.ActivationEvent
	AdminEvents     []adapter.ActivationEvent
	DuplicateAlerts []adapter.ActivationEvent

	NotifyOwnerFunc func(ctx context.Context, owner *model.User, ev adapter.ActivationEvent) error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) NotifyOwner(ctx context.Context, owner *model.User, ev adapter.ActivationEvent) error {
	if n.NotifyOwnerFunc != nil {
		return n.NotifyOwnerFunc(ctx, owner, ev)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.OwnerEvents = append(n.OwnerEvents, ev)
	return nil
}

func (n *MockNotifier) NotifyAdmins(ctx context.Context, ev adapter.ActivationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.AdminEvents = append(n.AdminEvents, ev)
	return nil
}

func (n *MockNotifier) AlertDuplicateActive(ctx context.Context, ev adapter.ActivationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.DuplicateAlerts = append(n.DuplicateAlerts, ev)
	return nil
}

func (n *MockNotifier) Owners() []adapter.ActivationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]adapter.ActivationEvent(nil), n.OwnerEvents...)
}

// ---- Mock EventPublisher ----

type MockEventPublisher struct {
	mu        sync.Mutex
	Published []adapter.ActivationEvent

	PublishFunc func(ctx context.Context, ev adapter.ActivationEvent) error
}

var _ adapter.EventPublisher = (*MockEventPublisher)(nil)

func (p *MockEventPublisher) PublishActivation(ctx context.Context, ev adapter.ActivationEvent) error {
	if p.PublishFunc != nil {
		return p.PublishFunc(ctx, ev)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, ev)
	return nil
}

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

// WithTx runs fn directly by default; mocks ignore the tx handle, so
// transactional behavior is observed through repo state, not rollbacks.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}
