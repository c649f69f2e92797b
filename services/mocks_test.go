package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/events"
)

// --- Mock Implementations ---

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Insert(ctx context.Context, token *domain.OneTimeToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) ConsumeActive(ctx context.Context, digest, deviceID string, now time.Time) (*domain.OneTimeToken, error) {
	args := m.Called(ctx, digest, deviceID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OneTimeToken), args.Error(1)
}

func (m *MockTokenRepository) ExpireActive(ctx context.Context, digest, deviceID string) (*domain.OneTimeToken, error) {
	args := m.Called(ctx, digest, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OneTimeToken), args.Error(1)
}

func (m *MockTokenRepository) FindByDigest(ctx context.Context, digest string) (*domain.OneTimeToken, error) {
	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OneTimeToken), args.Error(1)
}

func (m *MockTokenRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) List(ctx context.Context, status *domain.TokenStatus) ([]*domain.OneTimeToken, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OneTimeToken), args.Error(1)
}

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) OpenExclusive(ctx context.Context, session *domain.Session) (int64, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) TransitionActive(ctx context.Context, id string, to domain.SessionStatus) (bool, error) {
	args := m.Called(ctx, id, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Session), args.Error(1)
}

type MockIdentityRepository struct {
	mock.Mock
}

func (m *MockIdentityRepository) FindPrincipalByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

func (m *MockIdentityRepository) FindPrincipalByDeviceID(ctx context.Context, deviceID string) (*domain.Principal, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Principal), args.Error(1)
}

// recordingNotifier captures events synchronously so tests can assert on
// them without racing a dispatcher goroutine.
type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Publish(event events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Event, len(n.events))
	copy(out, n.events)
	return out
}

func (n *recordingNotifier) byType(t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range n.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
