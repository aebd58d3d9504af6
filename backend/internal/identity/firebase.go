package identity

import (
	"context"
	"fmt"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// FirebaseVerifier verifies Firebase Authentication ID tokens.
type FirebaseVerifier struct {
	client *firebaseauth.Client
	// CheckRevoked also rejects tokens of disabled users or revoked
	// sessions, at the cost of a network round trip.
	CheckRevoked bool
}

// NewFirebaseVerifier wraps an auth client obtained from firebase.App.Auth.
func NewFirebaseVerifier(client *firebaseauth.Client) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify implements Verifier.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	var tok *firebaseauth.Token
	var err error
	if v.CheckRevoked {
		tok, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	} else {
		tok, err = v.client.VerifyIDToken(ctx, token)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	uid := strings.TrimSpace(tok.UID)
	if uid == "" {
		return nil, ErrInvalidToken
	}
	p := &Principal{UserID: uid}
	if s, ok := tok.Claims["email"].(string); ok {
		p.Email = strings.TrimSpace(s)
	}
	if s, ok := tok.Claims["name"].(string); ok {
		p.DisplayName = strings.TrimSpace(s)
	}
	return p, nil
}
