package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"notekeep/models"
)

// ResetPasswordSalt namespaces reset tokens. It is mixed into the signing
// key and carried as the token audience.
const ResetPasswordSalt = "reset-password"

const DefaultResetTokenMaxAge = time.Hour

type resetClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ResetTokens issues and verifies stateless, signed password reset tokens.
type ResetTokens struct {
	key []byte
	now func() time.Time
}

// NewResetTokens derives the signing key from secret. now defaults to
// time.Now when nil.
func NewResetTokens(secret string, now func() time.Time) *ResetTokens {
	if now == nil {
		now = time.Now
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ResetPasswordSalt))
	return &ResetTokens{key: mac.Sum(nil), now: now}
}

// Issue returns a token binding email to the current time.
func (t *ResetTokens) Issue(email string) (string, error) {
	claims := resetClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Audience: jwt.ClaimStrings{ResetPasswordSalt},
			IssuedAt: jwt.NewNumericDate(t.now()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("signing reset token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and that the token is at most maxAge old.
func (t *ResetTokens) Verify(tokenString string, maxAge time.Duration) (models.ResetToken, error) {
	claims := &resetClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(ResetPasswordSalt),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return models.ResetToken{}, fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}
	if !token.Valid || claims.IssuedAt == nil || claims.Email == "" || claims.ID == "" {
		return models.ResetToken{}, ErrInvalidOrExpiredToken
	}

	issuedAt := claims.IssuedAt.Time
	if t.now().Sub(issuedAt) > maxAge {
		return models.ResetToken{}, fmt.Errorf("%w: issued %s ago", ErrInvalidOrExpiredToken, t.now().Sub(issuedAt).Round(time.Second))
	}

	return models.ResetToken{ID: claims.ID, Email: claims.Email, IssuedAt: issuedAt}, nil
}

// Remaining returns how long a verified token stays acceptable.
func (t *ResetTokens) Remaining(rt models.ResetToken, maxAge time.Duration) time.Duration {
	return maxAge - t.now().Sub(rt.IssuedAt)
}
