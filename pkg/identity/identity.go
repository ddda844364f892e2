// Package identity issues and validates the bearer tokens that carry a
// user's email claim, and owns the signup/signin/delete_user account
// lifecycle described in spec.md §4.B.
package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/log"
	"github.com/vaultforge/syncd/pkg/metrics"
	"github.com/vaultforge/syncd/pkg/types"
)

// Store is the slice of pkg/storage.Store that identity depends on.
// pkg/storage.BoltStore satisfies this interface alongside the rest of its
// operations; it is narrowed here so this package is testable without a
// database.
type Store interface {
	CreateUser(user types.User) error
	GetUser(email string) (types.User, error)
	DeleteUser(email string) error
}

// tokenTTL is the lifetime of a minted token. Not mandated by the source
// spec as a hard invariant; carrying an expiry is the idiomatic use of the
// JWT library.
const tokenTTL = 30 * 24 * time.Hour

// badCredentialsMessage is returned uniformly for unknown email and wrong
// password alike, so signin never reveals whether an email is registered.
const badCredentialsMessage = "invalid username or password"

// claims is the JWT payload: an email claim plus standard iat/exp.
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service mints and validates tokens and manages the user account
// lifecycle. It is safe for concurrent use; the signing secret is
// read-only after construction.
type Service struct {
	store     Store
	secret    []byte
	signupKey string
}

// NewService builds a Service backed by store, signing tokens with secret.
// signupKey, if non-empty, gates Signup per spec.md §4.B.
func NewService(store Store, secret []byte, signupKey string) *Service {
	return &Service{store: store, secret: secret, signupKey: signupKey}
}

// Signup creates a new user. It rejects with Unauthorized when the server
// is configured with a signup key and the caller's doesn't match, and with
// Conflict when the email is already registered.
func (s *Service) Signup(email, password, name, signupKey string) (types.User, error) {
	if s.signupKey != "" && signupKey != s.signupKey {
		metrics.SignupsTotal.WithLabelValues("unauthorized").Inc()
		return types.User{}, errs.New(errs.Unauthorized, "invalid signup key")
	}

	if _, err := s.store.GetUser(email); err == nil {
		metrics.SignupsTotal.WithLabelValues("conflict").Inc()
		return types.User{}, errs.New(errs.Conflict, "email already registered")
	} else if errs.KindOf(err) != errs.NotFound {
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return types.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return types.User{}, errs.Wrap(err, "hash password")
	}

	user := types.User{Email: email, PasswordHash: string(hash), Name: name}
	if err := s.store.CreateUser(user); err != nil {
		metrics.SignupsTotal.WithLabelValues("error").Inc()
		return types.User{}, err
	}

	metrics.SignupsTotal.WithLabelValues("ok").Inc()
	log.WithComponent("identity").Info().Str("email", email).Msg("user signed up")
	return user, nil
}

// Signin verifies email/password and mints a bearer token on success. Any
// failure — including an unknown email — returns the same opaque
// InvalidCredentials error so signin never leaks account existence.
func (s *Service) Signin(email, password string) (types.User, string, error) {
	user, err := s.store.GetUser(email)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			metrics.SigninsTotal.WithLabelValues("invalid_credentials").Inc()
			return types.User{}, "", errs.New(errs.InvalidCredentials, badCredentialsMessage)
		}
		metrics.SigninsTotal.WithLabelValues("error").Inc()
		return types.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.SigninsTotal.WithLabelValues("invalid_credentials").Inc()
		return types.User{}, "", errs.New(errs.InvalidCredentials, badCredentialsMessage)
	}

	token, err := s.mintToken(email)
	if err != nil {
		metrics.SigninsTotal.WithLabelValues("error").Inc()
		return types.User{}, "", err
	}
	metrics.SigninsTotal.WithLabelValues("ok").Inc()
	return user, token, nil
}

// TokenEmail validates token's signature and expiry and returns its email
// claim, or fails Unauthorized.
func (s *Service) TokenEmail(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errs.New(errs.Unauthorized, "invalid or expired token")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Email == "" {
		return "", errs.New(errs.Unauthorized, "invalid token claims")
	}
	return c.Email, nil
}

// TokenClaims is the subset of a parsed token's claims the operator CLI
// displays for `token inspect`.
type TokenClaims struct {
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspect parses token without requiring a matching user record, for
// operator tooling that wants to display its claims even for an
// already-expired or otherwise unusable token.
func (s *Service) Inspect(token string) (TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return TokenClaims{}, errs.Wrap(err, "parse token")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return TokenClaims{}, errs.New(errs.Unauthorized, "invalid token claims")
	}
	out := TokenClaims{Email: c.Email}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

// IssueToken mints a token for email without verifying a password, for
// operator tooling (`token issue`) that needs to hand a client a working
// token out of band. It does not check that the user exists.
func (s *Service) IssueToken(email string) (string, error) {
	return s.mintToken(email)
}

// DeleteUser removes the user record. Vaults and shares referencing the
// email are not cascaded, per spec.md §3.
func (s *Service) DeleteUser(email string) error {
	return s.store.DeleteUser(email)
}

func (s *Service) mintToken(email string) (string, error) {
	now := time.Now()
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errs.Wrap(err, "sign token")
	}
	return signed, nil
}
