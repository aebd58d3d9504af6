package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies HS256 tokens signed with a shared secret. It backs
// the local mode where no Firebase project is configured.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier returns a verifier for tokens minted by IssueToken.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, errShortSecret
	}
	return &JWTVerifier{secret: secret, issuer: issuer}, nil
}

type claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	var c claims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	tok, err := jwt.ParseWithClaims(token, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, errNoSubject
	}
	return &Principal{UserID: c.Subject, DisplayName: c.Name, Email: c.Email}, nil
}

// IssueToken mints a token accepted by the matching JWTVerifier.
func (v *JWTVerifier) IssueToken(p *Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Name:  p.DisplayName,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

//

var (
	errShortSecret = errors.New("jwt secret must be at least 32 bytes")
	errNoSubject   = fmt.Errorf("%w: token has no subject", ErrInvalidToken)
)
