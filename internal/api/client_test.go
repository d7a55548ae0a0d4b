package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

type DoerMock struct {
	mock.Mock
}

func (m *DoerMock) Do(ctx context.Context, req transport.Request, out any) error {
	args := m.Called(ctx, req, out)
	return args.Error(0)
}

func TestClient_Login(t *testing.T) {
	doer := new(DoerMock)
	creds := models.Credentials{Email: "a@b.com", Password: "password1"}

	doer.On("Do", mock.Anything, transport.Request{
		Method: http.MethodPost, Path: PathLogin, Body: creds, Public: true,
	}, mock.AnythingOfType("*models.AuthResult")).
		Run(func(args mock.Arguments) {
			res := args.Get(2).(*models.AuthResult)
			res.User = models.User{ID: "u-1", Email: "a@b.com"}
			res.AccessToken = "access"
			res.RefreshToken = "refresh"
		}).
		Return(nil).Once()

	res, err := New(doer).Login(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "u-1", res.User.ID)
	assert.Equal(t, models.Tokens{AccessToken: "access", RefreshToken: "refresh"}, res.Tokens())
	doer.AssertExpectations(t)
}

func TestClient_Refresh(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		doErr     error
		wantToken string
		wantErr   bool
	}{
		{name: "success", token: "new-access", wantToken: "new-access"},
		{name: "empty token", token: "", wantErr: true},
		{name: "rejected", doErr: &transport.Error{Status: http.StatusUnauthorized}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := new(DoerMock)
			doer.On("Do", mock.Anything, transport.Request{
				Method: http.MethodPost, Path: PathRefresh,
				Body: RefreshRequest{RefreshToken: "refresh"}, Public: true,
			}, mock.AnythingOfType("*api.RefreshResponse")).
				Run(func(args mock.Arguments) {
					args.Get(2).(*RefreshResponse).AccessToken = tt.token
				}).
				Return(tt.doErr).Once()

			got, err := New(doer).Refresh(context.Background(), "refresh")
			if tt.wantErr {
				require.Error(t, err)
				if tt.doErr != nil {
					assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, got)
		})
	}
}

func TestClient_CurrentSubscription(t *testing.T) {
	tests := []struct {
		name    string
		doErr   error
		wantNil bool
		wantErr bool
	}{
		{name: "found"},
		{name: "not found is no subscription", doErr: &transport.Error{Status: http.StatusNotFound}, wantNil: true},
		{name: "server error", doErr: &transport.Error{Status: http.StatusInternalServerError}, wantNil: true, wantErr: true},
		{name: "network error", doErr: transport.ErrNetwork, wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := new(DoerMock)
			doer.On("Do", mock.Anything, transport.Request{Method: http.MethodGet, Path: PathCurrentSubscription}, mock.Anything).
				Run(func(args mock.Arguments) {
					args.Get(2).(*models.Subscription).ID = "s-1"
				}).
				Return(tt.doErr).Once()

			sub, err := New(doer).CurrentSubscription(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, sub)
			} else {
				require.NotNil(t, sub)
				assert.Equal(t, "s-1", sub.ID)
			}
		})
	}
}

func TestClient_Plans(t *testing.T) {
	doer := new(DoerMock)
	doer.On("Do", mock.Anything, transport.Request{Method: http.MethodGet, Path: PathPlans}, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(2).(*PlansResponse).Data = []models.SubscriptionPlan{{ID: "p-1"}, {ID: "p-2"}}
		}).
		Return(nil).Once()

	plans, err := New(doer).Plans(context.Background())
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestClient_Logout_UsesCapturedToken(t *testing.T) {
	doer := new(DoerMock)
	doer.On("Do", mock.Anything, transport.Request{Method: http.MethodPost, Path: PathLogout, Token: "captured"}, nil).
		Return(errors.New("boom")).Once()

	err := New(doer).Logout(context.Background(), "captured")
	assert.Error(t, err)
	doer.AssertExpectations(t)
}

func TestClient_Mutations(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
		req  transport.Request
	}{
		{
			name: "cancel at period end",
			call: func(c *Client) error { return c.UpdateSubscription(context.Background(), true) },
			req: transport.Request{Method: http.MethodPatch, Path: PathCurrentSubscription,
				Body: UpdateSubscriptionRequest{CancelAtPeriodEnd: true}},
		},
		{
			name: "reactivate",
			call: func(c *Client) error { return c.ReactivateSubscription(context.Background()) },
			req:  transport.Request{Method: http.MethodPost, Path: PathReactivateSubscription},
		},
		{
			name: "renew",
			call: func(c *Client) error { return c.RenewSubscription(context.Background()) },
			req:  transport.Request{Method: http.MethodPost, Path: PathRenewSubscription},
		},
		{
			name: "register device",
			call: func(c *Client) error { return c.RegisterDevice(context.Background(), "push", "ios") },
			req: transport.Request{Method: http.MethodPost, Path: PathDevices,
				Body: DeviceRequest{Token: "push", Platform: "ios"}},
		},
		{
			name: "unregister device escapes token",
			call: func(c *Client) error { return c.UnregisterDevice(context.Background(), "a/b c") },
			req:  transport.Request{Method: http.MethodDelete, Path: PathDevices + "/a%2Fb%20c", Public: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := new(DoerMock)
			doer.On("Do", mock.Anything, tt.req, nil).Return(nil).Once()

			require.NoError(t, tt.call(New(doer)))
			doer.AssertExpectations(t)
		})
	}
}
