// Package access decides whether an administrative request may proceed and
// completes first-run provisioning of the admin credential.
package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nithronos/device/nosfw/internal/access/hash"
	"nithronos/device/nosfw/internal/devconfig"
)

// MinSecretLen is the shortest credential Provision accepts.
const MinSecretLen = 8

// ProvisionPath is where unprovisioned requests are sent.
const ProvisionPath = "/api/setup"

// Class is the authorization class of a route.
type Class int

const (
	// Open routes (status, health, metrics) never require credentials.
	Open Class = iota
	// Provisioning is reachable without credentials until a secret is set.
	Provisioning
	// Protected routes require credentials once provisioned and redirect to
	// provisioning before that.
	Protected
)

func (c Class) String() string {
	switch c {
	case Open:
		return "open"
	case Provisioning:
		return "provisioning"
	case Protected:
		return "protected"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Request is the part of an inbound request the gate looks at.
type Request struct {
	Class    Class
	Username string
	Password string
	HasBasic bool
	// SessionCookie is the raw cookie value, if any.
	SessionCookie string
}

type Verdict int

const (
	Allow Verdict = iota
	Redirect
	Challenge
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Challenge:
		return "challenge"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Decision is the outcome of Authorize.
type Decision struct {
	Verdict Verdict
	// Target is set for Redirect.
	Target string
	// User is the authenticated admin, empty when none was checked.
	User string
	// Session is non-nil when Basic credentials were accepted and the
	// caller should hand out a cookie.
	Session *Session
}

type ProvisionReason string

const (
	ReasonTooShort ProvisionReason = "too_short"
	ReasonMismatch ProvisionReason = "mismatch"
)

// ProvisioningError is the Rejected(reason) outcome of Provision.
type ProvisioningError struct {
	Reason ProvisionReason
}

func (e *ProvisioningError) Error() string {
	switch e.Reason {
	case ReasonTooShort:
		return fmt.Sprintf("password must be at least %d characters", MinSecretLen)
	case ReasonMismatch:
		return "passwords do not match"
	}
	return "provisioning rejected: " + string(e.Reason)
}

func (e *ProvisioningError) Is(target error) bool {
	t, ok := target.(*ProvisioningError)
	return ok && t.Reason == e.Reason
}

var (
	ErrTooShort = &ProvisioningError{Reason: ReasonTooShort}
	ErrMismatch = &ProvisioningError{Reason: ReasonMismatch}
)

// ConfigStore is the slice of devconfig.Store the gate needs.
type ConfigStore interface {
	Current() devconfig.DeviceConfig
	Update(ctx context.Context, fn func(*devconfig.DeviceConfig) error) (devconfig.DeviceConfig, error)
}

type Gate struct {
	store    ConfigStore
	sessions *SessionCodec
	log      zerolog.Logger
	now      func() time.Time
}

// NewGate builds a gate over store. sessions may be nil, in which case only
// Basic credentials are accepted.
func NewGate(store ConfigStore, sessions *SessionCodec, logger zerolog.Logger) *Gate {
	return &Gate{
		store:    store,
		sessions: sessions,
		log:      logger.With().Str("component", "access").Logger(),
		now:      time.Now,
	}
}

func (g *Gate) Sessions() *SessionCodec { return g.sessions }

// Authorize applies, in order: open routes pass; protection disabled passes;
// unprovisioned devices redirect every protected route to provisioning;
// provisioned devices require matching credentials.
func (g *Gate) Authorize(req Request) Decision {
	if req.Class == Open {
		return Decision{Verdict: Allow}
	}
	cfg := g.store.Current()
	if !cfg.AccessProtected {
		return Decision{Verdict: Allow}
	}
	if !cfg.Provisioned() {
		if req.Class == Provisioning {
			return Decision{Verdict: Allow}
		}
		return Decision{Verdict: Redirect, Target: ProvisionPath}
	}

	tag := credentialTag(cfg.AdminUser, cfg.AdminSecret)
	if req.SessionCookie != "" && g.sessions != nil {
		if s, ok := g.sessions.Decode(req.SessionCookie); ok && s.Tag == tag && s.User == cfg.AdminUser {
			return Decision{Verdict: Allow, User: s.User}
		}
	}
	if req.HasBasic && g.credentialsMatch(cfg, req.Username, req.Password) {
		d := Decision{Verdict: Allow, User: cfg.AdminUser}
		if g.sessions != nil {
			d.Session = &Session{User: cfg.AdminUser, Tag: tag, IssuedAt: g.now().Unix()}
		}
		return d
	}
	if req.HasBasic {
		g.log.Warn().Str("user", req.Username).Msg("rejected admin credentials")
	}
	return Decision{Verdict: Challenge}
}

func (g *Gate) credentialsMatch(cfg devconfig.DeviceConfig, user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUser)) == 1
	passOK := hash.Verify(cfg.AdminSecret, pass)
	return userOK && passOK
}

// Provision sets the admin credential. It always turns access protection on.
func (g *Gate) Provision(ctx context.Context, user, pass1, pass2 string) error {
	if len(pass1) < MinSecretLen {
		return ErrTooShort
	}
	if pass1 != pass2 {
		return ErrMismatch
	}
	if user == "" {
		user = devconfig.DefaultAdminUser
	}
	phc, err := hash.HashPassword(pass1)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	_, err = g.store.Update(ctx, func(c *devconfig.DeviceConfig) error {
		c.AccessProtected = true
		c.AdminUser = user
		c.AdminSecret = phc
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	g.log.Info().Str("user", user).Msg("admin credential provisioned")
	return nil
}

// IsRejected reports whether err is a Provision rejection rather than a
// storage failure.
func IsRejected(err error) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe)
}
