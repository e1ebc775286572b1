package oauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultStateTTL bounds how long a consent redirect may take.
	DefaultStateTTL = 10 * time.Minute
	stateIssuer     = "study-buddy/google-connect"
)

var errMissingStateSecret = errors.New("oauth: state secret required")

// StateCodecConfig configures StateCodec. TTL defaults to DefaultStateTTL.
type StateCodecConfig struct {
	Secret string
	TTL    time.Duration
	Clock  func() time.Time
}

// StateCodec issues and checks the consent state parameter: a short-lived
// HS256 token naming the user, unique per connect attempt.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
	parser *jwt.Parser
}

func NewStateCodec(cfg StateCodecConfig) (*StateCodec, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errMissingStateSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateCodec{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(stateIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// Sign returns a state value for userID.
func (s *StateCodec) Sign(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errMissingUserID
	}
	now := s.clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Verify checks a state produced by Sign and returns the user id it names.
func (s *StateCodec) Verify(state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", ErrInvalidState
	}
	var claims jwt.RegisteredClaims
	if _, err := s.parser.ParseWithClaims(state, &claims, s.key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}

func (s *StateCodec) key(*jwt.Token) (any, error) {
	return s.secret, nil
}
