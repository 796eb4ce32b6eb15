package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/facial-sign-on/internal/application/tokens"
	"github.com/facial-sign-on/internal/domain"
	"github.com/facial-sign-on/internal/infrastructure/memory"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByClientID(ctx context.Context, clientID string) (*domain.User, error) {
	args := m.Called(ctx, clientID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) BindClientID(ctx context.Context, userID, clientID string) error {
	return m.Called(ctx, userID, clientID).Error(0)
}

type mockSessionStore struct{ mock.Mock }

func (m *mockSessionStore) Put(ctx context.Context, s *domain.Session) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockSessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s, _ := args.Get(0).(*domain.Session); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSessionStore) Disable(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

type mockValidator struct{ mock.Mock }

func (m *mockValidator) ValidateSession(ctx context.Context, sessionToken, clientID string) error {
	return m.Called(ctx, sessionToken, clientID).Error(0)
}

type fakeSigner struct{}

func (fakeSigner) Sign(userID, sessionID, clientID string) (string, error) {
	return fmt.Sprintf("bearer.%s.%s.%s", userID, sessionID, clientID), nil
}
func (fakeSigner) Expiry() time.Duration { return 24 * time.Hour }

// --- helpers ---

type fixture struct {
	svc       Service
	users     *mockUserStore
	sessions  *mockSessionStore
	validator *mockValidator
	store     *tokens.Store
}

func newFixture(legacyEnabled, validate bool) *fixture {
	f := &fixture{
		users:     new(mockUserStore),
		sessions:  new(mockSessionStore),
		validator: new(mockValidator),
		store:     tokens.NewStore(memory.NewCache(), tokens.TTLs{Verification: 5 * time.Minute, ReplayGuard: 5 * time.Minute, Signup: time.Hour}),
	}
	f.svc = NewService(ServiceDeps{
		Users:           f.users,
		Sessions:        f.sessions,
		Tokens:          f.store,
		Vendor:          f.validator,
		JWT:             fakeSigner{},
		Legacy:          legacyEnabled,
		ValidateSession: validate,
	})
	return f
}

func boundUser(clientID string) *domain.User {
	return &domain.User{UserID: "u1", Email: "user@example.com", ClientID: clientID, Enable: true}
}

// --- hardened ---

func TestCreate_VerificationTokenRedeemedOnlyOnce(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	require.NoError(t, f.store.SaveVerification(ctx, &domain.VerificationToken{
		Token: "tok_abc123", Email: "user@example.com", ClientID: "cid_111",
	}))
	f.users.On("GetByEmail", ctx, "user@example.com").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_111", VerificationToken: "tok_abc123"})
	require.NoError(t, err)
	assert.Equal(t, "/", res.RedirectURL)
	assert.Equal(t, StrategyHardened, res.Session.Strategy)
	assert.Equal(t, "u1", res.Session.UserID)
	assert.NotEmpty(t, res.Bearer)

	_, err = f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-2", ClientID: "cid_111", VerificationToken: "tok_abc123"})
	assert.True(t, errors.Is(err, domain.ErrReplay))
	f.sessions.AssertNumberOfCalls(t, "Put", 1)
}

func TestCreate_SessionTokenReplayRejected(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	f.users.On("GetByClientID", ctx, "cid_111").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	req := VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_111"}
	_, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrReplay))
	f.users.AssertNumberOfCalls(t, "GetByClientID", 1)
}

func TestCreate_ReplayGuardMarkedEvenWhenLaterStepFails(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	f.users.On("GetByEmail", ctx, "ghost@example.com").Return(nil, domain.ErrNotFound)

	req := VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_111", Email: "ghost@example.com"}
	_, err := f.svc.Create(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.svc.Create(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrReplay))
}

func TestCreate_ConcurrentReplayExactlyOneSucceeds(t *testing.T) {
	f := newFixture(false, false)
	f.users.On("GetByClientID", mock.Anything, "cid_111").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)

	var ok, replays int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), VerifiedLogin{ClientSessionToken: "cst-shared", ClientID: "cid_111"})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, domain.ErrReplay):
				atomic.AddInt32(&replays, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(19), replays)
	f.sessions.AssertNumberOfCalls(t, "Put", 1)
}

func TestCreate_BoundIDMismatchIsHardFailure(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	u := boundUser("cid_111")
	f.users.On("GetByEmail", ctx, "user@example.com").Return(u, nil)

	_, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_222", Email: "user@example.com"})
	assert.True(t, errors.Is(err, domain.ErrIdentityMismatch))
	assert.Equal(t, "cid_111", u.ClientID)
	f.users.AssertNotCalled(t, "BindClientID", mock.Anything, mock.Anything, mock.Anything)
	f.sessions.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestCreate_FreshUserBindsPresentedID(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	fresh := &domain.User{UserID: "u2", Email: "new@example.com", Enable: true}
	f.users.On("GetByEmail", ctx, "new@example.com").Return(fresh, nil)
	f.users.On("BindClientID", ctx, "u2", "cid_999").Return(nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_999", Email: "New@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cid_999", res.Session.ClientID)
	assert.Equal(t, "cid_999", res.Session.User.ClientID)
	f.users.AssertCalled(t, "BindClientID", ctx, "u2", "cid_999")
}

func TestCreate_ConcurrentBindLosesWithMismatch(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	f.users.On("GetByEmail", ctx, "new@example.com").Return(&domain.User{UserID: "u2", Email: "new@example.com"}, nil)
	f.users.On("BindClientID", ctx, "u2", "cid_999").Return(fmt.Errorf("bind client id: %w", domain.ErrIdentityMismatch))

	_, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_999", Email: "new@example.com"})
	assert.True(t, errors.Is(err, domain.ErrIdentityMismatch))
	f.sessions.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestCreate_VerificationTokenForOtherClientRejected(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	require.NoError(t, f.store.SaveVerification(ctx, &domain.VerificationToken{Token: "tok", ClientID: "cid_111"}))

	_, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_222", VerificationToken: "tok"})
	assert.True(t, errors.Is(err, domain.ErrIdentityMismatch))
}

func TestCreate_VerificationTokenForOtherEmailRejected(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	require.NoError(t, f.store.SaveVerification(ctx, &domain.VerificationToken{
		Token: "tok_a", UserID: "uA", Email: "a@example.com", ClientID: "cid_A",
	}))

	_, err := f.svc.Create(ctx, VerifiedLogin{
		ClientSessionToken: "cst-1", ClientID: "cid_A", VerificationToken: "tok_a", Email: "b@example.com",
	})
	assert.True(t, errors.Is(err, domain.ErrIdentityMismatch))
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "BindClientID", mock.Anything, mock.Anything, mock.Anything)
	f.sessions.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestCreate_VerificationTokenResolvesRecordedUser(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	require.NoError(t, f.store.SaveVerification(ctx, &domain.VerificationToken{
		Token: "tok_a", UserID: "uA", Email: "a@example.com", ClientID: "cid_A",
	}))
	f.users.On("Get", ctx, "uA").Return(&domain.User{UserID: "uA", Email: "a@example.com", ClientID: "cid_A"}, nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{
		ClientSessionToken: "cst-1", ClientID: "cid_A", VerificationToken: "tok_a", Email: "A@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "uA", res.Session.UserID)
	f.users.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestCreate_VendorValidationFailure(t *testing.T) {
	f := newFixture(false, true)
	ctx := context.Background()
	f.validator.On("ValidateSession", ctx, "cst-1", "cid_111").
		Return(domain.NewError(domain.ErrForbidden, "Verification could not be confirmed.", "invalid"))

	_, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_111"})
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	f.users.AssertNotCalled(t, "GetByClientID", mock.Anything, mock.Anything)
}

func TestCreate_HardenedRequiresSessionTokenAndClientID(t *testing.T) {
	f := newFixture(false, false)
	for _, req := range []VerifiedLogin{
		{ClientID: "cid_111"},
		{ClientSessionToken: "cst-1"},
		{Verified: true, ClientID: "cid_111"},
	} {
		_, err := f.svc.Create(context.Background(), req)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}
}

// --- legacy, less-secure path ---

func TestCreate_LegacyLessSecurePathAcceptsVerifiedFlag(t *testing.T) {
	f := newFixture(true, false)
	ctx := context.Background()
	f.users.On("GetByClientID", ctx, "cid_111").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{Verified: true, ClientID: "cid_111"})
	require.NoError(t, err)
	assert.Equal(t, StrategyLegacy, res.Session.Strategy)
}

func TestCreate_LegacyLessSecurePathRequiresSomeProof(t *testing.T) {
	f := newFixture(true, false)

	_, err := f.svc.Create(context.Background(), VerifiedLogin{ClientID: "cid_111"})
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCreate_LegacyLessSecurePathResolvesClientIDFromEmail(t *testing.T) {
	f := newFixture(true, false)
	ctx := context.Background()
	f.users.On("GetByEmail", ctx, "user@example.com").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{
		Email:            "user@example.com",
		VerificationData: &VerificationData{Status: "verified"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cid_111", res.Session.ClientID)
	f.users.AssertNotCalled(t, "GetByClientID", mock.Anything, mock.Anything)
}

func TestCreate_LegacyLessSecurePathStillRefusesMismatch(t *testing.T) {
	f := newFixture(true, false)
	ctx := context.Background()
	f.users.On("GetByClientID", ctx, "cid_222").Return(boundUser("cid_111"), nil)

	_, err := f.svc.Create(ctx, VerifiedLogin{Signature: "sig", AxiamUID: "cid_222"})
	assert.True(t, errors.Is(err, domain.ErrIdentityMismatch))
}

func TestCreate_SessionTokenUsesHardenedEvenWhenLegacyEnabled(t *testing.T) {
	f := newFixture(true, false)
	ctx := context.Background()
	f.users.On("GetByClientID", ctx, "cid_111").Return(boundUser("cid_111"), nil)
	f.sessions.On("Put", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

	res, err := f.svc.Create(ctx, VerifiedLogin{ClientSessionToken: "cst-1", ClientID: "cid_111"})
	require.NoError(t, err)
	assert.Equal(t, StrategyHardened, res.Session.Strategy)
}

// --- current / logout ---

func TestCurrent(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	live := &domain.Session{SessionID: "s1", UserID: "u1", Enable: true, ExpiresAt: time.Now().Add(time.Hour).Unix()}
	f.sessions.On("Get", ctx, "s1").Return(live, nil)
	f.sessions.On("Get", ctx, "s2").Return(&domain.Session{SessionID: "s2", UserID: "u1", Enable: false, ExpiresAt: live.ExpiresAt}, nil)
	f.sessions.On("Get", ctx, "s3").Return(nil, domain.ErrNotFound)
	f.users.On("Get", ctx, "u1").Return(boundUser("cid_111"), nil)

	sess, err := f.svc.Current(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sess.User.Email)

	_, err = f.svc.Current(ctx, "s2")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	_, err = f.svc.Current(ctx, "s3")
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestLogout(t *testing.T) {
	f := newFixture(false, false)
	ctx := context.Background()
	f.sessions.On("Disable", ctx, "s1").Return(nil)

	require.NoError(t, f.svc.Logout(ctx, "s1"))
	f.sessions.AssertExpectations(t)
}

func TestFlag_AcceptsBoolAndString(t *testing.T) {
	var req VerifiedLogin
	require.NoError(t, json.Unmarshal([]byte(`{"verified":"true"}`), &req))
	assert.True(t, bool(req.Verified))
	require.NoError(t, json.Unmarshal([]byte(`{"verified":false}`), &req))
	assert.False(t, bool(req.Verified))
	require.NoError(t, json.Unmarshal([]byte(`{"verified":1}`), &req))
	assert.False(t, bool(req.Verified))
}
