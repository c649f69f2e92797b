package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quorumid/stepauth/digest"
	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/events"
)

// VerifyOutcome classifies a token verification for internal consumers. The
// coordinator collapses all non-valid outcomes to a single caller-visible
// "invalid token" signal; the notifier keeps the precise reason.
type VerifyOutcome string

const (
	VerifyOutcomeValid    VerifyOutcome = "valid"
	VerifyOutcomeNotFound VerifyOutcome = "not_found"
	VerifyOutcomeExpired  VerifyOutcome = "expired"
)

// Denial reasons recorded on the token-denied event. Not shown to callers.
const (
	denyReasonUnknown        = "unknown-digest"
	denyReasonReused         = "reused"
	denyReasonExpired        = "expired"
	denyReasonDeviceMismatch = "device-mismatch"
)

// VerifyResult carries the outcome of a verification attempt. Token is set
// only when the outcome is valid.
type VerifyResult struct {
	Outcome VerifyOutcome
	Token   *domain.OneTimeToken
}

// TokenView is a listed token together with its derived remaining lifetime.
type TokenView struct {
	*domain.OneTimeToken
	TimeRemaining int64 `json:"time_remaining"`
}

// TokenService owns the one-time token lifecycle: issuance, single-use
// consumption, lazy expiry, sweeps and purges.
type TokenService struct {
	repo      domain.TokenRepository
	notifier  events.Notifier
	secretLen int
	now       func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(repo domain.TokenRepository, notifier events.Notifier) *TokenService {
	if notifier == nil {
		notifier = events.NoOpNotifier{}
	}
	return &TokenService{
		repo:      repo,
		notifier:  notifier,
		secretLen: digest.DefaultSecretLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a new ACTIVE token for the device and returns it together with
// the plaintext secret. The plaintext exists only in this return value; it
// is never persisted or retrievable again.
func (s *TokenService) Issue(ctx context.Context, deviceID string, ttl time.Duration) (*domain.OneTimeToken, string, error) {
	if deviceID == "" {
		return nil, "", domain.NewValidationError("deviceId", "must not be empty")
	}
	if ttl <= 0 {
		return nil, "", domain.NewValidationError("ttl", "must be positive")
	}

	now := s.now()

	// A digest collision with an existing token is astronomically unlikely
	// but cheap to handle: regenerate the secret and retry.
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := digest.RandomSecret(s.secretLen)
		if err != nil {
			return nil, "", err
		}
		token := &domain.OneTimeToken{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			Digest:    digest.Fingerprint(deviceID, secret),
			Status:    domain.TokenStatusActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = s.repo.Insert(ctx, token)
		if err == nil {
			log.Debug().Str("deviceID", deviceID).Str("tokenID", token.ID).Msg("One-time token issued")
			s.notifier.Publish(events.Event{
				Type:     events.TypeTokenIssued,
				DeviceID: deviceID,
				TokenID:  token.ID,
			})
			return token, secret, nil
		}
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			continue
		}
		return nil, "", err
	}
	return nil, "", fmt.Errorf("%w: could not generate a unique token digest", domain.ErrStoreUnavailable)
}

// Verify consumes a token presented for a device. The check-then-transition
// is a single conditional update in the repository, so at most one of any
// number of concurrent attempts observes a valid outcome. A token found past
// its deadline is lazily flipped to EXPIRED as a side effect.
func (s *TokenService) Verify(ctx context.Context, deviceID, plainSecret string) (VerifyResult, error) {
	if deviceID == "" {
		return VerifyResult{}, domain.NewValidationError("deviceId", "must not be empty")
	}
	if plainSecret == "" {
		return VerifyResult{}, domain.NewValidationError("token", "must not be empty")
	}

	dg := digest.Fingerprint(deviceID, plainSecret)
	now := s.now()

	token, err := s.repo.ConsumeActive(ctx, dg, deviceID, now)
	if err == nil {
		s.notifier.Publish(events.Event{
			Type:     events.TypeTokenVerified,
			DeviceID: deviceID,
			TokenID:  token.ID,
		})
		return VerifyResult{Outcome: VerifyOutcomeValid, Token: token}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return VerifyResult{}, err
	}

	// Nothing consumable. If something is still ACTIVE under this digest it
	// must be past its deadline: materialize the expiry now.
	expired, err := s.repo.ExpireActive(ctx, dg, deviceID)
	if err == nil {
		s.notifier.Publish(events.Event{
			Type:     events.TypeTokenExpired,
			DeviceID: deviceID,
			TokenID:  expired.ID,
			Reason:   denyReasonExpired,
		})
		return VerifyResult{Outcome: VerifyOutcomeExpired}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return VerifyResult{}, err
	}

	s.notifier.Publish(events.Event{
		Type:     events.TypeTokenDenied,
		DeviceID: deviceID,
		Reason:   s.classifyDenial(ctx, dg, deviceID),
	})
	return VerifyResult{Outcome: VerifyOutcomeNotFound}, nil
}

// classifyDenial determines the precise internal reason a digest did not
// verify. Best effort: a store failure here degrades to the generic reason
// rather than failing the verification response.
func (s *TokenService) classifyDenial(ctx context.Context, dg, deviceID string) string {
	token, err := s.repo.FindByDigest(ctx, dg)
	if err != nil {
		return denyReasonUnknown
	}
	if token.DeviceID != deviceID {
		return denyReasonDeviceMismatch
	}
	switch token.Status {
	case domain.TokenStatusUsed:
		return denyReasonReused
	case domain.TokenStatusExpired:
		return denyReasonExpired
	default:
		return denyReasonUnknown
	}
}

// SweepExpired transitions all overdue ACTIVE tokens to EXPIRED. Safe to run
// concurrently with itself and with Verify; each token has exactly one
// winning transition.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Swept expired one-time tokens")
	}
	return count, nil
}

// PurgeExpired permanently deletes EXPIRED tokens.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Purged expired one-time tokens")
	}
	return count, nil
}

// Delete removes a token by identifier regardless of status.
func (s *TokenService) Delete(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, domain.NewValidationError("tokenId", "must not be empty")
	}
	return s.repo.DeleteByID(ctx, tokenID)
}

// List returns tokens with their derived remaining lifetimes, optionally
// filtered by status.
func (s *TokenService) List(ctx context.Context, status *domain.TokenStatus) ([]TokenView, error) {
	tokens, err := s.repo.List(ctx, status)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]TokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, TokenView{OneTimeToken: t, TimeRemaining: t.TimeRemaining(now)})
	}
	return views, nil
}
