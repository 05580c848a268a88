package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
)

const AudienceOperator = "pairgate:operator"

const (
	ScopeAdmin = "admin"
	ScopeRead  = "read"
)

// DefaultTokenTTL is the lifetime of issued operator tokens
const DefaultTokenTTL = 12 * time.Hour

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer signing with secret
func NewJWTTokenizer(secret []byte, ttl time.Duration, clk clock.Clock) ports.Tokenizer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &JWTTokenizer{secret: secret, ttl: ttl, clock: clk}
}

// Issue signs an operator token for subject
func (j *JWTTokenizer) Issue(subject, scope string) (string, error) {
	now := j.clock.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceOperator},
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// Verify parses an operator token and returns its subject and scope
func (j *JWTTokenizer) Verify(tokenStr string) (ports.Operator, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithAudience(AudienceOperator), jwt.WithTimeFunc(j.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ports.Operator{}, core.ErrTokenExpired
		}
		return ports.Operator{}, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return ports.Operator{}, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok {
		return ports.Operator{}, fmt.Errorf("%w: invalid claims type", core.ErrInvalidToken)
	}

	scope := claims.Scope
	if scope == "" {
		scope = ScopeAdmin
	}
	return ports.Operator{Subject: claims.Subject, Scope: scope}, nil
}
