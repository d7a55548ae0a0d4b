package subscription_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/scoutcard/internal/api"
	"github.com/magabrotheeeer/scoutcard/internal/cache"
	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/logger"
	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/services/subscription"
	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

// BackendMock мок эндпоинтов подписок
type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) CurrentSubscription(ctx context.Context) (*models.Subscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *BackendMock) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SubscriptionPlan), args.Error(1)
}

func (m *BackendMock) CreateSubscription(ctx context.Context, body api.CreateSubscriptionRequest) (*models.Subscription, error) {
	args := m.Called(ctx, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *BackendMock) UpdateSubscription(ctx context.Context, cancelAtPeriodEnd bool) error {
	return m.Called(ctx, cancelAtPeriodEnd).Error(0)
}

func (m *BackendMock) ReactivateSubscription(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *BackendMock) RenewSubscription(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeSession struct {
	user *models.User
}

func (s fakeSession) User() *models.User {
	return s.user
}

var (
	parent = &models.User{ID: "u-parent", Role: models.RoleParent}
	leader = &models.User{ID: "u-leader", Role: models.RoleUnitLeader}

	plansCfg = config.Plans{DirectPriceCents: 2500, ReferralPriceCents: 1500}

	directMonthly = models.SubscriptionPlan{ID: "direct-monthly", Name: "Monthly", PriceCents: 2500, BillingInterval: models.BillingMonthly}
	directAnnual  = models.SubscriptionPlan{ID: "direct-annual", Name: "Annual", PriceCents: 2500, BillingInterval: models.BillingAnnual}
	referral      = models.SubscriptionPlan{ID: "referral", Name: "Troop", PriceCents: 1500, BillingInterval: models.BillingAnnual}
	premium       = models.SubscriptionPlan{ID: "premium", Name: "Premium", PriceCents: 4900, BillingInterval: models.BillingAnnual}
	catalog       = []models.SubscriptionPlan{directMonthly, referral, directAnnual, premium}

	card = models.PaymentMethod{DataDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT", DataValue: "opaque"}
)

// clock середина периода activeSub.
func clock() time.Time {
	return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func activeSub() *models.Subscription {
	return &models.Subscription{
		ID:                 "s-1",
		Plan:               directMonthly,
		Status:             models.StatusActive,
		CurrentPeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func canceling() *models.Subscription {
	s := activeSub()
	s.CancelAtPeriodEnd = true
	return s
}

func newLifecycle(backend *BackendMock, user *models.User) (*subscription.Lifecycle, *cache.Memory) {
	mem := cache.NewMemory()
	return subscription.New(backend, fakeSession{user: user}, mem, plansCfg, logger.Noop(), subscription.WithClock(clock)), mem
}

func TestLifecycle_FetchCurrent(t *testing.T) {
	tests := []struct {
		name      string
		sub       *models.Subscription
		err       error
		wantState models.LifecycleState
		wantErr   bool
	}{
		{name: "active", sub: activeSub(), wantState: models.LifecycleState(models.StatusActive)},
		{name: "none", wantState: models.StateNone},
		{name: "server error keeps last state", err: &transport.Error{Status: http.StatusInternalServerError}, wantState: models.StateNone, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(BackendMock)
			if tt.sub != nil {
				backend.On("CurrentSubscription", mock.Anything).Return(tt.sub, tt.err).Once()
			} else {
				backend.On("CurrentSubscription", mock.Anything).Return(nil, tt.err).Once()
			}

			l, _ := newLifecycle(backend, parent)
			sub, err := l.FetchCurrent(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, sub)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.sub, sub)
			}
			assert.Equal(t, tt.wantState, l.State())
		})
	}
}

func TestLifecycle_FetchCurrentCachesForOffline(t *testing.T) {
	backend := new(BackendMock)
	backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()
	backend.On("CurrentSubscription", mock.Anything).Return(nil, nil).Once()

	l, _ := newLifecycle(backend, parent)
	ctx := context.Background()
	assert.Nil(t, l.Cached(ctx))

	_, err := l.FetchCurrent(ctx)
	require.NoError(t, err)
	cached := l.Cached(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, "s-1", cached.ID)

	_, err = l.FetchCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, l.Cached(ctx))
}

func TestLifecycle_NotAuthenticated(t *testing.T) {
	backend := new(BackendMock)
	l, _ := newLifecycle(backend, nil)
	ctx := context.Background()

	_, err := l.FetchCurrent(ctx)
	assert.ErrorIs(t, err, subscription.ErrNotAuthenticated)
	_, err = l.ListAvailablePlans(ctx)
	assert.ErrorIs(t, err, subscription.ErrNotAuthenticated)
	_, err = l.Subscribe(ctx, subscription.SubscribeRequest{PlanID: "direct-monthly"})
	assert.ErrorIs(t, err, subscription.ErrNotAuthenticated)
	_, err = l.Cancel(ctx)
	assert.ErrorIs(t, err, subscription.ErrNotAuthenticated)
	backend.AssertExpectations(t)
}

func TestLifecycle_ListAvailablePlans(t *testing.T) {
	tests := []struct {
		name    string
		user    *models.User
		plans   config.Plans
		wantIDs []string
	}{
		{
			name:    "parent sees direct tier only",
			user:    parent,
			plans:   plansCfg,
			wantIDs: []string{"direct-monthly", "direct-annual"},
		},
		{
			name:    "scout sees direct tier only",
			user:    &models.User{ID: "u-scout", Role: models.RoleScout},
			plans:   plansCfg,
			wantIDs: []string{"direct-monthly", "direct-annual"},
		},
		{
			name:    "unit leader sees referral tier",
			user:    leader,
			plans:   plansCfg,
			wantIDs: []string{"referral"},
		},
		{
			name:    "unit leader without referral tier falls back to direct",
			user:    leader,
			plans:   config.Plans{DirectPriceCents: 2500},
			wantIDs: []string{"direct-monthly", "direct-annual"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(BackendMock)
			backend.On("Plans", mock.Anything).Return(catalog, nil).Once()

			l := subscription.New(backend, fakeSession{user: tt.user}, cache.NewMemory(), tt.plans, logger.Noop())
			plans, err := l.ListAvailablePlans(context.Background())
			require.NoError(t, err)

			ids := make([]string, 0, len(plans))
			for _, p := range plans {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestLifecycle_Subscribe(t *testing.T) {
	attribution := &models.ScoutAttribution{ScoutID: "scout-7", ScoutName: "Sam", TroopNumber: "42"}

	tests := []struct {
		name       string
		user       *models.User
		req        subscription.SubscribeRequest
		setupMocks func(b *BackendMock)
		wantErr    error
	}{
		{
			name: "parent self-serve",
			user: parent,
			req:  subscription.SubscribeRequest{PlanID: "direct-monthly", PaymentMethod: card},
			setupMocks: func(b *BackendMock) {
				b.On("Plans", mock.Anything).Return(catalog, nil).Once()
				b.On("CreateSubscription", mock.Anything, api.CreateSubscriptionRequest{
					PlanID: "direct-monthly", PaymentMethod: card,
				}).Return(activeSub(), nil).Once()
				b.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()
			},
		},
		{
			name: "leader with attribution sends scout id as referral code",
			user: leader,
			req:  subscription.SubscribeRequest{PlanID: "referral", Attribution: attribution, PaymentMethod: card},
			setupMocks: func(b *BackendMock) {
				b.On("Plans", mock.Anything).Return(catalog, nil).Once()
				b.On("CreateSubscription", mock.Anything, api.CreateSubscriptionRequest{
					PlanID: "referral", ReferralCode: "scout-7", PaymentMethod: card,
				}).Return(activeSub(), nil).Once()
				b.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()
			},
		},
		{
			name:       "leader without attribution",
			user:       leader,
			req:        subscription.SubscribeRequest{PlanID: "referral", PaymentMethod: card},
			setupMocks: func(*BackendMock) {},
			wantErr:    subscription.ErrAttributionRequired,
		},
		{
			name:       "leader with empty scout id",
			user:       leader,
			req:        subscription.SubscribeRequest{PlanID: "referral", Attribution: &models.ScoutAttribution{}, PaymentMethod: card},
			setupMocks: func(*BackendMock) {},
			wantErr:    subscription.ErrAttributionRequired,
		},
		{
			name:       "parent with attribution",
			user:       parent,
			req:        subscription.SubscribeRequest{PlanID: "direct-monthly", Attribution: attribution, PaymentMethod: card},
			setupMocks: func(*BackendMock) {},
			wantErr:    subscription.ErrAttributionNotAllowed,
		},
		{
			name: "parent cannot buy referral tier",
			user: parent,
			req:  subscription.SubscribeRequest{PlanID: "referral", PaymentMethod: card},
			setupMocks: func(b *BackendMock) {
				b.On("Plans", mock.Anything).Return(catalog, nil).Once()
			},
			wantErr: subscription.ErrPlanNotOffered,
		},
		{
			name: "server rejects double subscription",
			user: leader,
			req:  subscription.SubscribeRequest{PlanID: "referral", Attribution: attribution, PaymentMethod: card},
			setupMocks: func(b *BackendMock) {
				b.On("Plans", mock.Anything).Return(catalog, nil).Once()
				b.On("CreateSubscription", mock.Anything, mock.Anything).
					Return(nil, &transport.Error{Status: http.StatusConflict, Message: "scout already subscribed"}).Once()
			},
			wantErr: subscription.ErrAlreadySubscribed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(BackendMock)
			tt.setupMocks(backend)

			l, _ := newLifecycle(backend, tt.user)
			sub, err := l.Subscribe(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sub)
				backend.AssertNotCalled(t, "CurrentSubscription", mock.Anything)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "s-1", sub.ID)
				assert.Equal(t, models.LifecycleState(models.StatusActive), l.State())
			}
			backend.AssertExpectations(t)
		})
	}
}

func TestLifecycle_CancelSchedulesEndOfPeriod(t *testing.T) {
	backend := new(BackendMock)
	backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()
	backend.On("UpdateSubscription", mock.Anything, true).Return(nil).Once()
	backend.On("CurrentSubscription", mock.Anything).Return(canceling(), nil).Once()

	l, _ := newLifecycle(backend, parent)
	ctx := context.Background()

	before, err := l.FetchCurrent(ctx)
	require.NoError(t, err)

	after, err := l.Cancel(ctx)
	require.NoError(t, err)
	assert.True(t, after.CancelAtPeriodEnd)
	assert.False(t, after.AutoRenew())
	assert.True(t, after.WillLapse())
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, models.LifecycleState(models.StatusActive), l.State())
	backend.AssertExpectations(t)
}

func TestLifecycle_MutationFailureDoesNotRefetch(t *testing.T) {
	backend := new(BackendMock)
	backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()
	backend.On("RenewSubscription", mock.Anything).Return(&transport.Error{Status: http.StatusBadGateway}).Once()

	l, _ := newLifecycle(backend, parent)
	_, err := l.FetchCurrent(context.Background())
	require.NoError(t, err)

	sub, err := l.Renew(context.Background())
	assert.Nil(t, sub)
	assert.True(t, transport.IsStatus(err, http.StatusBadGateway))
	assert.Equal(t, "s-1", l.Current().ID)
	backend.AssertNumberOfCalls(t, "CurrentSubscription", 1)
	backend.AssertNumberOfCalls(t, "RenewSubscription", 1)
}

func TestLifecycle_Reactivate(t *testing.T) {
	guarded := []struct {
		name    string
		current func() *models.Subscription
		wantErr error
	}{
		{
			name:    "active and not canceling",
			current: activeSub,
			wantErr: subscription.ErrNotCanceling,
		},
		{
			name: "suspended and not canceling",
			current: func() *models.Subscription {
				s := activeSub()
				s.Status = models.StatusSuspended
				return s
			},
			wantErr: subscription.ErrNotCanceling,
		},
		{
			name: "canceling with period elapsed",
			current: func() *models.Subscription {
				s := canceling()
				s.CurrentPeriodStart = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
				s.CurrentPeriodEnd = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				return s
			},
			wantErr: subscription.ErrPeriodElapsed,
		},
		{
			name: "period ends exactly now",
			current: func() *models.Subscription {
				s := canceling()
				s.CurrentPeriodEnd = clock()
				return s
			},
			wantErr: subscription.ErrPeriodElapsed,
		},
	}

	for _, tt := range guarded {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(BackendMock)
			backend.On("CurrentSubscription", mock.Anything).Return(tt.current(), nil).Once()

			l, _ := newLifecycle(backend, parent)
			_, err := l.FetchCurrent(context.Background())
			require.NoError(t, err)

			_, err = l.Reactivate(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			backend.AssertNotCalled(t, "ReactivateSubscription", mock.Anything)
		})
	}

	t.Run("canceled subscription restarted", func(t *testing.T) {
		ended := activeSub()
		ended.Status = models.StatusCanceled
		ended.CurrentPeriodEnd = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		backend := new(BackendMock)
		backend.On("CurrentSubscription", mock.Anything).Return(ended, nil).Once()
		backend.On("ReactivateSubscription", mock.Anything).Return(nil).Once()
		backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()

		l, _ := newLifecycle(backend, parent)
		_, err := l.FetchCurrent(context.Background())
		require.NoError(t, err)

		sub, err := l.Reactivate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, sub.Status)
		backend.AssertExpectations(t)
	})

	t.Run("canceling subscription reactivated", func(t *testing.T) {
		backend := new(BackendMock)
		backend.On("CurrentSubscription", mock.Anything).Return(canceling(), nil).Once()
		backend.On("ReactivateSubscription", mock.Anything).Return(nil).Once()
		backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()

		l, _ := newLifecycle(backend, parent)
		_, err := l.FetchCurrent(context.Background())
		require.NoError(t, err)

		sub, err := l.Reactivate(context.Background())
		require.NoError(t, err)
		assert.True(t, sub.AutoRenew())
		backend.AssertExpectations(t)
	})

	t.Run("no subscription", func(t *testing.T) {
		backend := new(BackendMock)
		backend.On("CurrentSubscription", mock.Anything).Return(nil, nil).Once()

		l, _ := newLifecycle(backend, parent)
		_, err := l.FetchCurrent(context.Background())
		require.NoError(t, err)

		_, err = l.Reactivate(context.Background())
		assert.ErrorIs(t, err, subscription.ErrNoSubscription)
	})

	t.Run("server 404 is no subscription", func(t *testing.T) {
		backend := new(BackendMock)
		backend.On("ReactivateSubscription", mock.Anything).Return(&transport.Error{Status: http.StatusNotFound}).Once()

		l, _ := newLifecycle(backend, parent)
		_, err := l.Reactivate(context.Background())
		assert.ErrorIs(t, err, subscription.ErrNoSubscription)
	})
}

func TestLifecycle_RenewIsNotIdempotent(t *testing.T) {
	backend := new(BackendMock)
	backend.On("RenewSubscription", mock.Anything).Return(nil).Twice()
	backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Twice()

	l, _ := newLifecycle(backend, parent)
	for i := 0; i < 2; i++ {
		_, err := l.Renew(context.Background())
		require.NoError(t, err)
	}
	backend.AssertNumberOfCalls(t, "RenewSubscription", 2)
}

func TestLifecycle_ToggleAutoRenew(t *testing.T) {
	tests := []struct {
		name       string
		current    *models.Subscription
		enabled    bool
		wantUpdate *bool
	}{
		{name: "disable active", current: activeSub(), enabled: false, wantUpdate: ptr(true)},
		{name: "enable canceling", current: canceling(), enabled: true, wantUpdate: ptr(false)},
		{name: "already enabled is no-op", current: activeSub(), enabled: true},
		{name: "already disabled is no-op", current: canceling(), enabled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(BackendMock)
			backend.On("CurrentSubscription", mock.Anything).Return(tt.current, nil)
			if tt.wantUpdate != nil {
				backend.On("UpdateSubscription", mock.Anything, *tt.wantUpdate).Return(nil).Once()
			}

			l, _ := newLifecycle(backend, parent)
			_, err := l.FetchCurrent(context.Background())
			require.NoError(t, err)

			_, err = l.ToggleAutoRenew(context.Background(), tt.enabled)
			require.NoError(t, err)

			if tt.wantUpdate == nil {
				backend.AssertNotCalled(t, "UpdateSubscription", mock.Anything, mock.Anything)
				backend.AssertNumberOfCalls(t, "CurrentSubscription", 1)
			} else {
				backend.AssertExpectations(t)
				backend.AssertNumberOfCalls(t, "CurrentSubscription", 2)
			}
		})
	}
}

func TestLifecycle_Reset(t *testing.T) {
	backend := new(BackendMock)
	backend.On("CurrentSubscription", mock.Anything).Return(activeSub(), nil).Once()

	l, mem := newLifecycle(backend, parent)
	ctx := context.Background()
	_, err := l.FetchCurrent(ctx)
	require.NoError(t, err)

	l.Reset(ctx, parent.ID)
	assert.Equal(t, models.StateNone, l.State())
	assert.Nil(t, l.Current())
	_, found := mem.Raw("subscription:" + parent.ID)
	assert.False(t, found)
}

func TestLifecycle_RefetchFailureAfterMutation(t *testing.T) {
	backend := new(BackendMock)
	backend.On("UpdateSubscription", mock.Anything, true).Return(nil).Once()
	backend.On("CurrentSubscription", mock.Anything).Return(nil, errors.New("timeout")).Once()

	l, _ := newLifecycle(backend, parent)
	_, err := l.Cancel(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refetch")
}

func ptr[T any](v T) *T {
	return &v
}
