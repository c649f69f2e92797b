package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/events"
	"github.com/quorumid/stepauth/internal/crypto"
)

// ValidateOutcome classifies a session validity check.
type ValidateOutcome string

const (
	ValidateOutcomeValid    ValidateOutcome = "valid"
	ValidateOutcomeNotFound ValidateOutcome = "not_found"
	ValidateOutcomeInactive ValidateOutcome = "inactive"
	ValidateOutcomeExpired  ValidateOutcome = "expired"
)

// ValidateResult carries the outcome of a session validity check. Session,
// TimeRemaining and Duration are set only when the outcome is valid.
type ValidateResult struct {
	Outcome       ValidateOutcome
	Session       *domain.Session
	TimeRemaining int64
	Duration      int64
}

// SessionService owns the session lifecycle: exclusive creation, validity
// checks with lazy expiry, termination and sweeps. The origin address is
// encrypted before it reaches the repository.
type SessionService struct {
	repo     domain.SessionRepository
	notifier events.Notifier
	cipher   crypto.FieldCipher
	now      func() time.Time
}

// NewSessionService creates a SessionService.
func NewSessionService(repo domain.SessionRepository, notifier events.Notifier, cipher crypto.FieldCipher) *SessionService {
	if notifier == nil {
		notifier = events.NoOpNotifier{}
	}
	if cipher == nil {
		cipher = crypto.NoOpFieldCipher{}
	}
	return &SessionService{
		repo:     repo,
		notifier: notifier,
		cipher:   cipher,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open creates a new ACTIVE session for the principal after demoting all the
// principal's other ACTIVE sessions to EXPIRED. The demote-then-create runs
// atomically in the repository, so concurrent logins for one principal
// settle on a single ACTIVE session.
func (s *SessionService) Open(ctx context.Context, principal, deviceID, originIP string, ttl time.Duration) (*domain.Session, error) {
	if principal == "" {
		return nil, domain.NewValidationError("principal", "must not be empty")
	}
	if ttl <= 0 {
		return nil, domain.NewValidationError("ttl", "must be positive")
	}

	encryptedIP, err := s.cipher.Encrypt(originIP)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Principal: principal,
		DeviceID:  deviceID,
		OriginIP:  encryptedIP,
		StartedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    domain.SessionStatusActive,
	}

	demoted, err := s.repo.OpenExclusive(ctx, session)
	if err != nil {
		return nil, err
	}
	if demoted > 0 {
		log.Debug().Str("principal", principal).Int64("demoted", demoted).Msg("Demoted prior active sessions")
	}

	s.notifier.Publish(events.Event{
		Type:      events.TypeSessionOpened,
		Principal: principal,
		DeviceID:  deviceID,
		SessionID: session.ID,
		IP:        originIP,
	})

	// Hand the plaintext address back to the caller; only the stored copy is
	// encrypted.
	session.OriginIP = originIP
	return session, nil
}

// Validate checks a session's validity. An ACTIVE session found past its
// deadline is flipped to EXPIRED as a side effect (lazy expiry).
func (s *SessionService) Validate(ctx context.Context, sessionID string) (ValidateResult, error) {
	if sessionID == "" {
		return ValidateResult{}, domain.NewValidationError("sessionId", "must not be empty")
	}

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ValidateResult{Outcome: ValidateOutcomeNotFound}, nil
		}
		return ValidateResult{}, err
	}
	if session.Status != domain.SessionStatusActive {
		return ValidateResult{Outcome: ValidateOutcomeInactive}, nil
	}

	now := s.now()
	if session.ExpiresAt.Before(now) {
		// Lazy expiry. The conditional transition may lose against a
		// concurrent sweep or logout; either way the session is terminal.
		if _, err := s.repo.TransitionActive(ctx, sessionID, domain.SessionStatusExpired); err != nil {
			log.Warn().Err(err).Str("sessionID", sessionID).Msg("Failed to materialize session expiry")
		} else {
			s.notifier.Publish(events.Event{
				Type:      events.TypeSessionExpired,
				Principal: session.Principal,
				SessionID: session.ID,
			})
		}
		return ValidateResult{Outcome: ValidateOutcomeExpired}, nil
	}

	return ValidateResult{
		Outcome:       ValidateOutcomeValid,
		Session:       session,
		TimeRemaining: session.TimeRemaining(now),
		Duration:      session.Duration(now),
	}, nil
}

// Expire terminates an ACTIVE session with status EXPIRED. This is the
// caller-initiated logout path, distinct from ForceLogout.
func (s *SessionService) Expire(ctx context.Context, sessionID string) (bool, error) {
	return s.terminate(ctx, sessionID, domain.SessionStatusExpired, events.TypeSessionExpired)
}

// ForceLogout terminates an ACTIVE session with status FORCED_LOGOUT
// (admin-initiated). Returns false when the session is missing or already
// terminal; nothing else is altered in that case.
func (s *SessionService) ForceLogout(ctx context.Context, sessionID string) (bool, error) {
	return s.terminate(ctx, sessionID, domain.SessionStatusForcedLogout, events.TypeSessionForcedLogout)
}

func (s *SessionService) terminate(ctx context.Context, sessionID string, to domain.SessionStatus, eventType events.Type) (bool, error) {
	if sessionID == "" {
		return false, domain.NewValidationError("sessionId", "must not be empty")
	}
	ok, err := s.repo.TransitionActive(ctx, sessionID, to)
	if err != nil {
		return false, err
	}
	if ok {
		s.notifier.Publish(events.Event{
			Type:      eventType,
			SessionID: sessionID,
		})
	}
	return ok, nil
}

// SweepExpired transitions all overdue ACTIVE sessions to EXPIRED.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Swept expired sessions")
	}
	return count, nil
}

// ListActive returns ACTIVE sessions newest first, with origin addresses
// decrypted for display.
func (s *SessionService) ListActive(ctx context.Context) ([]*domain.Session, error) {
	sessions, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.OriginIP == "" {
			continue
		}
		plain, err := s.cipher.Decrypt(session.OriginIP)
		if err != nil {
			log.Warn().Err(err).Str("sessionID", session.ID).Msg("Failed to decrypt session origin address")
			session.OriginIP = ""
			continue
		}
		session.OriginIP = plain
	}
	return sessions, nil
}
