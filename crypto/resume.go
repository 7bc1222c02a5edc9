package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"livepoll/domain"
)

// resumeClaims binds a resume token to one session code.
// Fields must be exported for JSON serialization.
type resumeClaims struct {
	PollCode string `json:"pollCode"`
	jwt.RegisteredClaims
}

// ResumeTokenManager mints and checks the tokens a session owner uses to
// reclaim a session after reconnecting with a fresh connection id.
type ResumeTokenManager struct {
	secretKey []byte
	maxAge    time.Duration
}

func NewResumeTokenManager(secretKey string, maxAge time.Duration) *ResumeTokenManager {
	return &ResumeTokenManager{
		secretKey: []byte(secretKey),
		maxAge:    maxAge,
	}
}

func (m *ResumeTokenManager) Generate(pollCode string, now time.Time) (string, error) {
	claims := resumeClaims{
		PollCode: pollCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.TokenError, err)
	}

	return signedToken, nil
}

// Verify returns the session code the token was minted for.
func (m *ResumeTokenManager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &resumeClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidSigningAlg
		}
		return m.secretKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSigningAlg):
			return "", err
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", domain.ErrExpiredToken
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return "", domain.ErrInvalidTokenSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", domain.ErrCorruptedToken
		default:
			return "", fmt.Errorf("%w: %w", domain.TokenError, err)
		}
	}

	if claims, ok := token.Claims.(*resumeClaims); ok && token.Valid {
		return claims.PollCode, nil
	}

	return "", domain.ErrCorruptedToken
}
