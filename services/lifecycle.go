package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quorumid/stepauth/domain"
	"github.com/quorumid/stepauth/events"
	"github.com/quorumid/stepauth/internal/attempts"
	"github.com/quorumid/stepauth/internal/auth"
	"github.com/quorumid/stepauth/internal/auth/totp"
)

// ErrInvalidCredentials is the single outward signal for a failed first
// factor, regardless of whether the username or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is the single outward signal for every failed token
// verification. Not-found, reused, expired and wrong-device are deliberately
// indistinguishable to the caller so the response cannot be used as a state
// oracle; the event stream keeps the precise reason for observers.
var ErrInvalidToken = errors.New("invalid token")

// TokenGrant is what a successful first factor yields: either a freshly
// issued one-time token (plaintext returned exactly once, delivery out of
// band) or an instruction to use the principal's authenticator app.
type TokenGrant struct {
	Method    domain.TwoFactorMethod
	Plaintext string
	ExpiresAt time.Time
}

// LifecycleConfig tunes the coordinator's TTLs and maintenance ticks.
type LifecycleConfig struct {
	TokenTTL      time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration
	PurgeInterval time.Duration
	PurgeEnabled  bool
}

func (c *LifecycleConfig) applyDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 5 * time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 10 * time.Minute
	}
}

// Coordinator orchestrates the authentication lifecycle across the token and
// session stores: first factor → token issuance → token verification →
// session creation → validation/termination, plus the periodic maintenance
// sweeps, which it owns from Start to Stop.
type Coordinator struct {
	tokens   *TokenService
	sessions *SessionService
	identity domain.IdentityRepository
	hasher   auth.PasswordHasher
	tracker  *attempts.Tracker
	notifier events.Notifier
	cfg      LifecycleConfig

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator wires a Coordinator. The tracker may be nil when attempt
// alerting is disabled.
func NewCoordinator(
	tokens *TokenService,
	sessions *SessionService,
	identity domain.IdentityRepository,
	hasher auth.PasswordHasher,
	tracker *attempts.Tracker,
	notifier events.Notifier,
	cfg LifecycleConfig,
) *Coordinator {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = events.NoOpNotifier{}
	}
	return &Coordinator{
		tokens:   tokens,
		sessions: sessions,
		identity: identity,
		hasher:   hasher,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		stop:     make(chan struct{}),
	}
}

// BeginLogin performs the first factor and, on success, arranges the second:
// for token principals a one-time token is issued and its plaintext returned
// for out-of-band delivery; for TOTP principals the caller is told to prompt
// for an authenticator code instead.
func (c *Coordinator) BeginLogin(ctx context.Context, username, password string) (*TokenGrant, error) {
	if username == "" || password == "" {
		return nil, domain.NewValidationError("credentials", "must not be empty")
	}

	principal, err := c.identity.FindPrincipalByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if principal.Disabled {
		return nil, ErrInvalidCredentials
	}
	if err := c.hasher.Verify(principal.SecretDigest, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	if principal.Method == domain.TwoFactorMethodTOTP {
		return &TokenGrant{Method: domain.TwoFactorMethodTOTP}, nil
	}

	token, plaintext, err := c.tokens.Issue(ctx, principal.DeviceID, c.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenGrant{
		Method:    domain.TwoFactorMethodToken,
		Plaintext: plaintext,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// SubmitToken verifies a presented one-time token and, on success, opens a
// session for the device's principal. If opening the session fails after the
// token was consumed, the token stays consumed: the caller restarts the
// login rather than getting a second shot at a spent token.
func (c *Coordinator) SubmitToken(ctx context.Context, deviceID, plainSecret, originIP string) (*domain.Session, error) {
	principal, err := c.identity.FindPrincipalByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown devices collapse into the same outward signal as a bad
			// token; the event stream records the difference.
			c.notifier.Publish(events.Event{
				Type:     events.TypeTokenDenied,
				DeviceID: deviceID,
				Reason:   "unknown-device",
				IP:       originIP,
			})
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	result, err := c.tokens.Verify(ctx, deviceID, plainSecret)
	if err != nil {
		return nil, err
	}
	if result.Outcome != VerifyOutcomeValid {
		c.recordFailure(principal.ID)
		return nil, ErrInvalidToken
	}

	return c.openSession(ctx, principal, deviceID, originIP)
}

// SubmitTOTP verifies an authenticator-app code for TOTP principals and, on
// success, opens a session. Same outward collapse as SubmitToken.
func (c *Coordinator) SubmitTOTP(ctx context.Context, deviceID, passcode, originIP string) (*domain.Session, error) {
	principal, err := c.identity.FindPrincipalByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.notifier.Publish(events.Event{
				Type:     events.TypeTokenDenied,
				DeviceID: deviceID,
				Reason:   "unknown-device",
				IP:       originIP,
			})
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if principal.Method != domain.TwoFactorMethodTOTP || principal.TOTPSecret == "" {
		return nil, ErrInvalidToken
	}

	if !totp.ValidateCode(principal.TOTPSecret, passcode) {
		c.recordFailure(principal.ID)
		c.notifier.Publish(events.Event{
			Type:      events.TypeTokenDenied,
			Principal: principal.ID,
			DeviceID:  deviceID,
			Reason:    "totp-mismatch",
			IP:        originIP,
		})
		return nil, ErrInvalidToken
	}

	c.notifier.Publish(events.Event{
		Type:      events.TypeTokenVerified,
		Principal: principal.ID,
		DeviceID:  deviceID,
	})
	return c.openSession(ctx, principal, deviceID, originIP)
}

func (c *Coordinator) openSession(ctx context.Context, principal *domain.Principal, deviceID, originIP string) (*domain.Session, error) {
	if c.tracker != nil {
		c.tracker.Reset(principal.ID)
	}
	session, err := c.sessions.Open(ctx, principal.ID, deviceID, originIP, c.cfg.SessionTTL)
	if err != nil {
		// Known trade-off: the verified token is already consumed and is not
		// resurrected here.
		log.Error().Err(err).Str("principal", principal.ID).Msg("Session open failed after successful verification")
		return nil, err
	}
	return session, nil
}

func (c *Coordinator) recordFailure(principal string) {
	if c.tracker == nil {
		return
	}
	c.tracker.Record(principal)
}

// Logout expires the caller's own session. Uses the EXPIRED terminal status,
// distinct from the admin-initiated FORCED_LOGOUT.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) (bool, error) {
	return c.sessions.Expire(ctx, sessionID)
}

// ValidateSession reports whether a session reference is still valid.
func (c *Coordinator) ValidateSession(ctx context.Context, sessionID string) (ValidateResult, error) {
	return c.sessions.Validate(ctx, sessionID)
}

// ForceLogout is the admin-initiated termination path.
func (c *Coordinator) ForceLogout(ctx context.Context, sessionID string) (bool, error) {
	return c.sessions.ForceLogout(ctx, sessionID)
}

// Start launches the periodic maintenance ticks: an expiry sweep over both
// stores and, when enabled, an independent purge of expired tokens. Call
// Stop to halt them; Start must not be called twice.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.sweepLoop()

	if c.cfg.PurgeEnabled {
		c.wg.Add(1)
		go c.purgeLoop()
	}
	log.Info().
		Dur("sweep_interval", c.cfg.SweepInterval).
		Bool("purge_enabled", c.cfg.PurgeEnabled).
		Msg("Lifecycle maintenance started")
}

// Stop halts the maintenance ticks and waits for in-flight sweeps to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
	log.Info().Msg("Lifecycle maintenance stopped")
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunSweep(context.Background())
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) purgeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunPurge(context.Background())
		case <-c.stop:
			return
		}
	}
}

// RunSweep performs one maintenance pass over both stores. Failures are
// logged and swallowed: a missed sweep is retried on the next tick and must
// never take the process down.
func (c *Coordinator) RunSweep(ctx context.Context) {
	if _, err := c.tokens.SweepExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("Token expiry sweep failed")
	}
	if _, err := c.sessions.SweepExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("Session expiry sweep failed")
	}
}

// RunPurge performs one purge pass over the token store.
func (c *Coordinator) RunPurge(ctx context.Context) {
	if _, err := c.tokens.PurgeExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("Token purge failed")
	}
}
