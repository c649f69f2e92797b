package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/internal/auth"
	"github.com/quorumid/stepauth/internal/crypto"
	"github.com/quorumid/stepauth/services"
)

// --- In-memory fakes ---

type fakeTokenRepo struct {
	tokens map[string]*domain.OneTimeToken // keyed by digest
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*domain.OneTimeToken)}
}

func (r *fakeTokenRepo) Insert(_ context.Context, token *domain.OneTimeToken) error {
	if _, ok := r.tokens[token.Digest]; ok {
		return domain.ErrAlreadyTerminal
	}
	r.tokens[token.Digest] = token
	return nil
}

func (r *fakeTokenRepo) ConsumeActive(_ context.Context, digest, deviceID string, now time.Time) (*domain.OneTimeToken, error) {
	t, ok := r.tokens[digest]
	if !ok || t.DeviceID != deviceID || t.Status != domain.TokenStatusActive || !t.ExpiresAt.After(now) {
		return nil, domain.ErrNotFound
	}
	t.Status = domain.TokenStatusUsed
	t.UsedAt = &now
	return t, nil
}

func (r *fakeTokenRepo) ExpireActive(_ context.Context, digest, deviceID string) (*domain.OneTimeToken, error) {
	t, ok := r.tokens[digest]
	if !ok || t.DeviceID != deviceID || t.Status != domain.TokenStatusActive {
		return nil, domain.ErrNotFound
	}
	t.Status = domain.TokenStatusExpired
	return t, nil
}

func (r *fakeTokenRepo) FindByDigest(_ context.Context, digest string) (*domain.OneTimeToken, error) {
	if t, ok := r.tokens[digest]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTokenRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, t := range r.tokens {
		if t.Status == domain.TokenStatusActive && t.ExpiresAt.Before(now) {
			t.Status = domain.TokenStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) PurgeExpired(_ context.Context) (int64, error) {
	var n int64
	for dg, t := range r.tokens {
		if t.Status == domain.TokenStatusExpired {
			delete(r.tokens, dg)
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) DeleteByID(_ context.Context, id string) (bool, error) {
	for dg, t := range r.tokens {
		if t.ID == id {
			delete(r.tokens, dg)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTokenRepo) List(_ context.Context, status *domain.TokenStatus) ([]*domain.OneTimeToken, error) {
	var out []*domain.OneTimeToken
	for _, t := range r.tokens {
		if status == nil || t.Status == *status {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSessionRepo struct {
	sessions map[string]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) OpenExclusive(_ context.Context, session *domain.Session) (int64, error) {
	var demoted int64
	for _, s := range r.sessions {
		if s.Principal == session.Principal && s.Status == domain.SessionStatusActive {
			s.Status = domain.SessionStatusExpired
			demoted++
		}
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return demoted, nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*domain.Session, error) {
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) TransitionActive(_ context.Context, id string, to domain.SessionStatus) (bool, error) {
	s, ok := r.sessions[id]
	if !ok || s.Status != domain.SessionStatusActive {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r *fakeSessionRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, s := range r.sessions {
		if s.Status == domain.SessionStatusActive && s.ExpiresAt.Before(now) {
			s.Status = domain.SessionStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) ListActive(_ context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.Status == domain.SessionStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeIdentityRepo struct {
	principals []*domain.Principal
}

func (r *fakeIdentityRepo) FindPrincipalByUsername(_ context.Context, username string) (*domain.Principal, error) {
	for _, p := range r.principals {
		if p.Username == username {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeIdentityRepo) FindPrincipalByDeviceID(_ context.Context, deviceID string) (*domain.Principal, error) {
	for _, p := range r.principals {
		if p.DeviceID == deviceID {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// --- Fixture ---

type apiFixture struct {
	e           *echo.Echo
	api         *API
	coordinator *services.Coordinator
	tokens      *services.TokenService
	sessions    *services.SessionService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)
	dg, err := hasher.Hash("hunter2")
	require.NoError(t, err)

	identity := &fakeIdentityRepo{principals: []*domain.Principal{{
		ID: "alice", Username: "alice", DeviceID: "device-1",
		SecretDigest: dg, Method: domain.TwoFactorMethodToken,
	}}}

	tokens := services.NewTokenService(newFakeTokenRepo(), nil)
	sessions := services.NewSessionService(newFakeSessionRepo(), nil, crypto.NoOpFieldCipher{})
	coordinator := services.NewCoordinator(tokens, sessions, identity, hasher, nil, nil, services.LifecycleConfig{})

	api := NewAPI(coordinator, tokens, sessions, nil)
	e := echo.New()
	api.RegisterRoutes(e)

	return &apiFixture{e: e, api: api, coordinator: coordinator, tokens: tokens, sessions: sessions}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestLoginThenSubmitTokenFlow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"plaintext"`, "the secret is never echoed over HTTP")

	// Grab the issued plaintext the way the out-of-band deliverer would.
	grant, err := f.coordinator.BeginLogin(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	rec = f.do(http.MethodPost, "/auth/token", `{"device_id":"device-1","token":"`+grant.Plaintext+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_id")

	// The token is consumed: replaying it fails with the generic signal.
	rec = f.do(http.MethodPost, "/auth/token", `{"device_id":"device-1","token":"`+grant.Plaintext+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication failed")
}

func TestLoginBadCredentials(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/auth/login", `{"username":"ghost","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unknown user is indistinguishable")
}

func TestSubmitTokenWrongSecret(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/auth/token", `{"device_id":"device-1","token":"NOPE11"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateSessionEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	session, err := f.sessions.Open(context.Background(), "alice", "device-1", "", 30*time.Minute)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/auth/sessions/"+session.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.Contains(t, rec.Body.String(), "time_remaining")

	rec = f.do(http.MethodGet, "/auth/sessions/missing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestLogoutEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	session, err := f.sessions.Open(context.Background(), "alice", "device-1", "", 30*time.Minute)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/auth/logout", `{"session_id":"`+session.ID+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/auth/logout", `{"session_id":"`+session.ID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "already-terminal session")
}

func TestAdminListTokens(t *testing.T) {
	f := newAPIFixture(t)

	_, _, err := f.tokens.Issue(context.Background(), "device-1", 5*time.Minute)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/admin/tokens?status=ACTIVE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "time_remaining")

	rec = f.do(http.MethodGet, "/admin/tokens?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDeleteToken(t *testing.T) {
	f := newAPIFixture(t)

	token, _, err := f.tokens.Issue(context.Background(), "device-1", 5*time.Minute)
	require.NoError(t, err)

	rec := f.do(http.MethodDelete, "/admin/tokens/"+token.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodDelete, "/admin/tokens/"+token.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminForceLogout(t *testing.T) {
	f := newAPIFixture(t)

	session, err := f.sessions.Open(context.Background(), "alice", "device-1", "", 30*time.Minute)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/admin/sessions/"+session.ID+"/force-logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/admin/sessions/"+session.ID+"/force-logout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/admin/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), session.ID)
}
