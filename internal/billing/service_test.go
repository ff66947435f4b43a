package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnel-billing/internal/apperr"
	"tunnel-billing/internal/logging"
	"tunnel-billing/internal/models"
	"tunnel-billing/internal/payment"
	"tunnel-billing/internal/store"
)

type txKey struct{}

// memRepo keeps subscriptions in memory, staged per transaction. It rejects
// a second current subscription per user the way the partial unique index does.
type memRepo struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	users     map[uint]models.User
	plans     map[uint]models.Plan
	subs      map[uint]models.UserSubscription
	nextSubID uint
	createErr error
	reloadErr error
}

func newMemRepo() *memRepo {
	customer := "cus_1"
	return &memRepo{
		users: map[uint]models.User{
			1: {ID: 1, Email: "a@example.com", StripeCustomerID: &customer},
			2: {ID: 2, Email: "b@example.com"},
		},
		plans: map[uint]models.Plan{
			1: {ID: 1, Code: "starter", Name: "Starter", StripePriceID: "price_starter"},
			2: {ID: 2, Code: "pro", Name: "Pro", StripePriceID: "price_pro"},
		},
		subs: map[uint]models.UserSubscription{},
	}
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	staged := make(map[uint]models.UserSubscription, len(r.subs))
	for id, s := range r.subs {
		staged[id] = s
	}
	r.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, staged)); err != nil {
		return err
	}

	r.mu.Lock()
	r.subs = staged
	r.mu.Unlock()
	return nil
}

func (r *memRepo) data(ctx context.Context) map[uint]models.UserSubscription {
	if staged, ok := ctx.Value(txKey{}).(map[uint]models.UserSubscription); ok {
		return staged
	}
	return r.subs
}

func (r *memRepo) GetUser(ctx context.Context, id uint) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetPlan(ctx context.Context, id uint) (*models.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) CurrentSubscription(ctx context.Context, userID uint) (*models.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.UserSubscription
	for _, s := range r.data(ctx) {
		if s.UserID == userID && s.IsCurrent() && (found == nil || s.ID > found.ID) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	plan := r.plans[found.PlanID]
	found.Plan = &plan
	return found, nil
}

func (r *memRepo) GetSubscriptionWithPlan(ctx context.Context, id uint) (*models.UserSubscription, error) {
	if r.reloadErr != nil {
		return nil, r.reloadErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data(ctx)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	plan := r.plans[s.PlanID]
	s.Plan = &plan
	return &s, nil
}

func (r *memRepo) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data(ctx) {
		if s.UserID == sub.UserID && s.IsCurrent() && sub.IsCurrent() {
			return store.ErrDuplicate
		}
	}
	r.nextSubID++
	sub.ID = r.nextSubID
	r.data(ctx)[sub.ID] = *sub
	return nil
}

func (r *memRepo) SaveSubscription(ctx context.Context, sub *models.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data(ctx)[sub.ID] = *sub
	return nil
}

func (r *memRepo) SetSubscriptionStatus(ctx context.Context, id uint, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data(ctx)[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	r.data(ctx)[id] = s
	return nil
}

func (r *memRepo) seed(sub models.UserSubscription) models.UserSubscription {
	r.nextSubID++
	sub.ID = r.nextSubID
	r.subs[sub.ID] = sub
	return sub
}

func (r *memRepo) currentCount(userID uint) int {
	n := 0
	for _, s := range r.subs {
		if s.UserID == userID && s.IsCurrent() {
			n++
		}
	}
	return n
}

type fakePayments struct {
	mu        sync.Mutex
	creates   []string
	updates   []string
	cancels   []string
	createErr error
	updateErr error
	cancelErr error
}

func (p *fakePayments) CreateSubscription(ctx context.Context, customerID, priceID string) (*payment.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, customerID+":"+priceID)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &payment.Subscription{ID: "sub_new", ItemID: "si_new"}, nil
}

func (p *fakePayments) UpdateSubscription(ctx context.Context, subscriptionID, itemID, priceID string) (*payment.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, subscriptionID+":"+itemID+":"+priceID)
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	return &payment.Subscription{ID: subscriptionID, ItemID: itemID}, nil
}

func (p *fakePayments) CancelSubscription(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, subscriptionID)
	return p.cancelErr
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uint, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *memRepo, payments *fakePayments, opts Options) *Service {
	opts.Logger = logging.Discard()
	opts.Now = func() time.Time { return fixedNow }
	return NewService(repo, payments, opts)
}

func strPtr(s string) *string { return &s }

func TestAssignPlan_CreatesSubscriptionWhenNoneCurrent(t *testing.T) {
	repo := newMemRepo()
	payments := &fakePayments{}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, payments, Options{Notifier: notifier})

	sub, err := svc.AssignPlan(context.Background(), 1, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"cus_1:price_starter"}, payments.creates)
	assert.Empty(t, payments.updates)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "sub_new", sub.StripeSubscriptionID)
	require.NotNil(t, sub.StripeSubscriptionItemID)
	assert.Equal(t, "si_new", *sub.StripeSubscriptionItemID)
	assert.Equal(t, "price_starter", sub.StripePriceID)
	assert.Equal(t, fixedNow, sub.ActivatedAt)
	require.NotNil(t, sub.Plan)
	assert.Equal(t, "starter", sub.Plan.Code)
	assert.Equal(t, []string{"Your plan is now Starter."}, notifier.messages)
}

func TestAssignPlan_UpgradesExistingItemInPlace(t *testing.T) {
	repo := newMemRepo()
	cancelAt := fixedNow.Add(-time.Hour)
	existing := repo.seed(models.UserSubscription{
		UserID:                   1,
		PlanID:                   1,
		StripePriceID:            "price_starter",
		StripeSubscriptionID:     "sub_1",
		StripeSubscriptionItemID: strPtr("si_1"),
		Status:                   models.SubscriptionStatusPendingCancellation,
		CancelRequestedAt:        &cancelAt,
		EffectiveCancelDate:      &cancelAt,
	})
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	sub, err := svc.AssignPlan(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Empty(t, payments.creates)
	assert.Equal(t, []string{"sub_1:si_1:price_pro"}, payments.updates)
	assert.Equal(t, existing.ID, sub.ID)
	assert.Equal(t, uint(2), sub.PlanID)
	assert.Equal(t, "price_pro", sub.StripePriceID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.CancelRequestedAt)
	assert.Nil(t, sub.EffectiveCancelDate)
	assert.Equal(t, fixedNow, sub.ActivatedAt)
	require.NotNil(t, sub.Plan)
	assert.Equal(t, "pro", sub.Plan.Code)
	assert.Equal(t, 1, repo.currentCount(1))
}

func TestAssignPlan_ReissueKeepsSingleCurrentRow(t *testing.T) {
	repo := newMemRepo()
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	first, err := svc.AssignPlan(context.Background(), 1, 1)
	require.NoError(t, err)
	second, err := svc.AssignPlan(context.Background(), 1, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, payments.creates, 1)
	assert.Len(t, payments.updates, 1)
	assert.Equal(t, 1, repo.currentCount(1))
}

// Concurrent first assignments race on the create path. Without a lock the
// unique index rejects the loser, whose remote subscription is cancelled.
func TestAssignPlan_ConcurrentCreateLeavesOneCurrentRow(t *testing.T) {
	repo := newMemRepo()
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AssignPlan(context.Background(), 1, 1)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
		}
	}
	assert.Equal(t, 1, repo.currentCount(1))
	assert.Len(t, payments.cancels, failed)
}

func TestAssignPlan_StarterThenPro(t *testing.T) {
	repo := newMemRepo()
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	_, err := svc.AssignPlan(context.Background(), 1, 1)
	require.NoError(t, err)
	sub, err := svc.AssignPlan(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, "price_pro", sub.StripePriceID)
	assert.Equal(t, []string{"sub_new:si_new:price_pro"}, payments.updates)
	assert.Equal(t, 1, repo.currentCount(1))
}

func TestAssignPlan_ReplacesCurrentRowWithoutItem(t *testing.T) {
	repo := newMemRepo()
	stale := repo.seed(models.UserSubscription{
		UserID:               1,
		PlanID:               1,
		StripePriceID:        "price_starter",
		StripeSubscriptionID: "sub_old",
		Status:               models.SubscriptionStatusActive,
	})
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	sub, err := svc.AssignPlan(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.NotEqual(t, stale.ID, sub.ID)
	assert.Len(t, payments.creates, 1)
	assert.Equal(t, []string{"sub_old"}, payments.cancels)
	assert.Equal(t, models.SubscriptionStatusInactive, repo.subs[stale.ID].Status)
	assert.Equal(t, 1, repo.currentCount(1))
}

func TestAssignPlan_ReplacedRemoteCancelFailureKeepsNewSubscription(t *testing.T) {
	repo := newMemRepo()
	stale := repo.seed(models.UserSubscription{
		UserID:               1,
		PlanID:               1,
		StripePriceID:        "price_starter",
		StripeSubscriptionID: "sub_old",
		Status:               models.SubscriptionStatusActive,
	})
	payments := &fakePayments{cancelErr: payment.ErrProvider}
	svc := newTestService(repo, payments, Options{})

	sub, err := svc.AssignPlan(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, "sub_new", sub.StripeSubscriptionID)
	assert.Equal(t, []string{"sub_old"}, payments.cancels)
	assert.Equal(t, models.SubscriptionStatusInactive, repo.subs[stale.ID].Status)
	assert.Equal(t, 1, repo.currentCount(1))
}

func TestAssignPlan_ProviderFailureLeavesLocalStateUntouched(t *testing.T) {
	repo := newMemRepo()
	existing := repo.seed(models.UserSubscription{
		UserID:                   1,
		PlanID:                   1,
		StripePriceID:            "price_starter",
		StripeSubscriptionID:     "sub_1",
		StripeSubscriptionItemID: strPtr("si_1"),
		Status:                   models.SubscriptionStatusActive,
	})
	payments := &fakePayments{updateErr: payment.ErrProvider}
	notifier := &recordingNotifier{}
	svc := newTestService(repo, payments, Options{Notifier: notifier})

	_, err := svc.AssignPlan(context.Background(), 1, 2)

	require.Error(t, err)
	assert.Equal(t, apperr.KindPaymentProvider, apperr.KindOf(err))
	assert.ErrorIs(t, err, payment.ErrProvider)
	assert.Equal(t, existing, repo.subs[existing.ID])
	assert.Empty(t, notifier.messages)
}

func TestAssignPlan_CancelsRemoteWhenInsertFails(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("insert failed")
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	_, err := svc.AssignPlan(context.Background(), 1, 1)

	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Equal(t, []string{"sub_new"}, payments.cancels)
	assert.Empty(t, repo.subs)
}

func TestAssignPlan_ReloadFailureIsInternal(t *testing.T) {
	repo := newMemRepo()
	repo.reloadErr = errors.New("read failed")
	payments := &fakePayments{}
	svc := newTestService(repo, payments, Options{})

	_, err := svc.AssignPlan(context.Background(), 1, 1)

	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, payments.cancels)
	assert.Equal(t, 1, repo.currentCount(1))
}

func TestAssignPlan_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		userID    uint
		planID    uint
		wantKind  apperr.Kind
		wantField string
	}{
		{"no user", 0, 1, apperr.KindUnauthorized, apperr.FieldServer},
		{"no plan id", 1, 0, apperr.KindValidation, "planId"},
		{"unknown plan", 1, 99, apperr.KindNotFound, "plan"},
		{"unknown user", 99, 1, apperr.KindNotFound, "user"},
		{"no stripe customer", 2, 1, apperr.KindPrecondition, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &fakePayments{}
			svc := newTestService(newMemRepo(), payments, Options{})

			_, err := svc.AssignPlan(context.Background(), tt.userID, tt.planID)

			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantKind, appErr.Kind)
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Empty(t, payments.creates)
			assert.Empty(t, payments.updates)
		})
	}
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) {
	return nil, apperr.Conflict("user", "Another plan change is in progress")
}

func TestAssignPlan_LockHeldIsConflict(t *testing.T) {
	payments := &fakePayments{}
	svc := newTestService(newMemRepo(), payments, Options{Locker: busyLocker{}})

	_, err := svc.AssignPlan(context.Background(), 1, 1)

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, payments.creates)
}

func TestProfile(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakePayments{}, Options{})

	_, err := svc.Profile(context.Background(), 1)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
	assert.Equal(t, "User plan not found", appErr.Message)

	_, err = svc.AssignPlan(context.Background(), 1, 2)
	require.NoError(t, err)

	profile, err := svc.Profile(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", profile.User.Email)
	require.NotNil(t, profile.CurrentPlan.Plan)
	assert.Equal(t, "pro", profile.CurrentPlan.Plan.Code)
}
