// Package mockapi provides a testify-based mock of the remote API client.
// It is used by the session and links tests to script API answers without a
// server.
package mockapi

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/flylink/internal/api"
	"github.com/patric-chuzhbe/flylink/internal/models"
)

// APIMock implements every operation of api.Client.
type APIMock struct {
	mock.Mock

	// OnListAll, if set, replaces the generic mock handler for ListAll. It is
	// handy when a test needs to observe state at the moment of the call.
	OnListAll func(ctx context.Context) (*api.Envelope[models.URLList], error)

	// OnToggleActive works like OnListAll for ToggleActive.
	OnToggleActive func(ctx context.Context, code string) (*api.Envelope[models.URLResponse], error)
}

func (m *APIMock) Login(ctx context.Context, req models.LoginRequest) (*api.Envelope[models.AuthResponse], error) {
	args := m.Called(ctx, req)
	env, _ := args.Get(0).(*api.Envelope[models.AuthResponse])
	return env, args.Error(1)
}

func (m *APIMock) Register(ctx context.Context, req models.RegisterRequest) (*api.Envelope[models.AuthResponse], error) {
	args := m.Called(ctx, req)
	env, _ := args.Get(0).(*api.Envelope[models.AuthResponse])
	return env, args.Error(1)
}

func (m *APIMock) ListAll(ctx context.Context) (*api.Envelope[models.URLList], error) {
	if m.OnListAll != nil {
		return m.OnListAll(ctx)
	}
	args := m.Called(ctx)
	env, _ := args.Get(0).(*api.Envelope[models.URLList])
	return env, args.Error(1)
}

func (m *APIMock) GetByCode(ctx context.Context, code string) (*api.Envelope[models.URLResponse], error) {
	args := m.Called(ctx, code)
	env, _ := args.Get(0).(*api.Envelope[models.URLResponse])
	return env, args.Error(1)
}

func (m *APIMock) CreateURL(ctx context.Context, req models.CreateURLRequest) (*api.Envelope[models.URLResponse], error) {
	args := m.Called(ctx, req)
	env, _ := args.Get(0).(*api.Envelope[models.URLResponse])
	return env, args.Error(1)
}

func (m *APIMock) UpdateURL(ctx context.Context, code string, req models.UpdateURLRequest) (*api.Envelope[models.URLResponse], error) {
	args := m.Called(ctx, code, req)
	env, _ := args.Get(0).(*api.Envelope[models.URLResponse])
	return env, args.Error(1)
}

func (m *APIMock) Delete(ctx context.Context, code string) (*api.Envelope[struct{}], error) {
	args := m.Called(ctx, code)
	env, _ := args.Get(0).(*api.Envelope[struct{}])
	return env, args.Error(1)
}

func (m *APIMock) ToggleActive(ctx context.Context, code string) (*api.Envelope[models.URLResponse], error) {
	if m.OnToggleActive != nil {
		return m.OnToggleActive(ctx, code)
	}
	args := m.Called(ctx, code)
	env, _ := args.Get(0).(*api.Envelope[models.URLResponse])
	return env, args.Error(1)
}
