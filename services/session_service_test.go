package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/events"
	"github.com/quorumid/stepauth/internal/crypto"
)

func newSessionServiceForTest(repo domain.SessionRepository, notifier events.Notifier) *SessionService {
	svc := NewSessionService(repo, notifier, crypto.NoOpFieldCipher{})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestOpenCreatesExclusiveActiveSession(t *testing.T) {
	repo := new(MockSessionRepository)
	notifier := &recordingNotifier{}
	svc := newSessionServiceForTest(repo, notifier)

	var stored *domain.Session
	repo.On("OpenExclusive", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*domain.Session)
		}).
		Return(int64(1), nil).Once()

	session, err := svc.Open(context.Background(), "alice", "device-1", "203.0.113.9", 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusActive, session.Status)
	assert.Equal(t, "alice", session.Principal)
	assert.Equal(t, fixedNow, session.StartedAt)
	assert.Equal(t, fixedNow.Add(30*time.Minute), session.ExpiresAt)
	assert.NotEmpty(t, session.ID)
	assert.Same(t, stored, session)

	opened := notifier.byType(events.TypeSessionOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, session.ID, opened[0].SessionID)
	repo.AssertExpectations(t)
}

func TestOpenEncryptsOriginAddressAtRest(t *testing.T) {
	repo := new(MockSessionRepository)
	key := make([]byte, 32)
	cipher, err := crypto.NewAESFieldCipher(key)
	require.NoError(t, err)

	svc := NewSessionService(repo, nil, cipher)
	svc.now = func() time.Time { return fixedNow }

	var storedIP string
	repo.On("OpenExclusive", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			storedIP = args.Get(1).(*domain.Session).OriginIP
		}).
		Return(int64(0), nil).Once()

	session, err := svc.Open(context.Background(), "alice", "device-1", "203.0.113.9", time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, "203.0.113.9", storedIP, "repository only ever sees ciphertext")
	assert.Equal(t, "203.0.113.9", session.OriginIP, "caller gets the plaintext back")

	plain, err := cipher.Decrypt(storedIP)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", plain)
}

func TestOpenRejectsBadInput(t *testing.T) {
	svc := newSessionServiceForTest(new(MockSessionRepository), nil)
	var vErr *domain.ValidationError

	_, err := svc.Open(context.Background(), "", "device-1", "", time.Minute)
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.Open(context.Background(), "alice", "device-1", "", 0)
	assert.ErrorAs(t, err, &vErr)
}

func TestValidateValidSession(t *testing.T) {
	repo := new(MockSessionRepository)
	svc := newSessionServiceForTest(repo, nil)

	repo.On("FindByID", mock.Anything, "s-1").Return(&domain.Session{
		ID:        "s-1",
		Principal: "alice",
		Status:    domain.SessionStatusActive,
		StartedAt: fixedNow.Add(-10 * time.Minute),
		ExpiresAt: fixedNow.Add(20 * time.Minute),
	}, nil).Once()

	result, err := svc.Validate(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, ValidateOutcomeValid, result.Outcome)
	assert.EqualValues(t, 20*60, result.TimeRemaining)
	assert.EqualValues(t, 10*60, result.Duration)
}

func TestValidateMissingSession(t *testing.T) {
	repo := new(MockSessionRepository)
	svc := newSessionServiceForTest(repo, nil)

	repo.On("FindByID", mock.Anything, "nope").Return(nil, domain.ErrNotFound).Once()

	result, err := svc.Validate(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, ValidateOutcomeNotFound, result.Outcome)
}

func TestValidateTerminalSessionIsInactive(t *testing.T) {
	repo := new(MockSessionRepository)
	svc := newSessionServiceForTest(repo, nil)

	repo.On("FindByID", mock.Anything, "s-1").Return(&domain.Session{
		ID: "s-1", Status: domain.SessionStatusForcedLogout,
	}, nil).Once()

	result, err := svc.Validate(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, ValidateOutcomeInactive, result.Outcome)
}

func TestValidateLazyExpiry(t *testing.T) {
	repo := new(MockSessionRepository)
	notifier := &recordingNotifier{}
	svc := newSessionServiceForTest(repo, notifier)

	repo.On("FindByID", mock.Anything, "s-1").Return(&domain.Session{
		ID:        "s-1",
		Principal: "alice",
		Status:    domain.SessionStatusActive,
		ExpiresAt: fixedNow.Add(-time.Minute),
	}, nil).Once()
	repo.On("TransitionActive", mock.Anything, "s-1", domain.SessionStatusExpired).
		Return(true, nil).Once()

	result, err := svc.Validate(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, ValidateOutcomeExpired, result.Outcome)

	require.Len(t, notifier.byType(events.TypeSessionExpired), 1)
	repo.AssertExpectations(t)
}

func TestForceLogout(t *testing.T) {
	repo := new(MockSessionRepository)
	notifier := &recordingNotifier{}
	svc := newSessionServiceForTest(repo, notifier)

	repo.On("TransitionActive", mock.Anything, "s-1", domain.SessionStatusForcedLogout).
		Return(true, nil).Once()

	ok, err := svc.ForceLogout(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, notifier.byType(events.TypeSessionForcedLogout), 1)
}

func TestForceLogoutTerminalSessionIsNoOp(t *testing.T) {
	repo := new(MockSessionRepository)
	notifier := &recordingNotifier{}
	svc := newSessionServiceForTest(repo, notifier)

	repo.On("TransitionActive", mock.Anything, "s-1", domain.SessionStatusForcedLogout).
		Return(false, nil).Once()

	ok, err := svc.ForceLogout(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, notifier.all(), "no event for a no-op termination")
}

func TestExpireUsesExpiredStatus(t *testing.T) {
	repo := new(MockSessionRepository)
	svc := newSessionServiceForTest(repo, nil)

	repo.On("TransitionActive", mock.Anything, "s-1", domain.SessionStatusExpired).
		Return(true, nil).Once()

	ok, err := svc.Expire(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, ok)
	repo.AssertExpectations(t)
}

func TestListActiveDecryptsOriginAddresses(t *testing.T) {
	repo := new(MockSessionRepository)
	key := make([]byte, 32)
	cipher, err := crypto.NewAESFieldCipher(key)
	require.NoError(t, err)

	svc := NewSessionService(repo, nil, cipher)
	svc.now = func() time.Time { return fixedNow }

	sealed, err := cipher.Encrypt("203.0.113.9")
	require.NoError(t, err)
	repo.On("ListActive", mock.Anything).Return([]*domain.Session{
		{ID: "s-1", OriginIP: sealed},
		{ID: "s-2", OriginIP: "garbage"},
	}, nil).Once()

	sessions, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "203.0.113.9", sessions[0].OriginIP)
	assert.Empty(t, sessions[1].OriginIP, "undecryptable address is blanked, not surfaced")
}
