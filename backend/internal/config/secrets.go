package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

// SecretScheme prefixes configuration values stored in Secret Manager, e.g.
// sm://projects/p/secrets/jwt/versions/latest.
const SecretScheme = "sm://"

// ErrBadSecretRef is returned for references that are not a secret version
// resource name.
var ErrBadSecretRef = errors.New("invalid secret reference")

type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretManagerResolver reads secret versions from Google Secret Manager.
type SecretManagerResolver struct {
	client secretAccessor
	closer func() error
}

// NewSecretManagerResolver dials Secret Manager with application default
// credentials.
func NewSecretManagerResolver(ctx context.Context) (*SecretManagerResolver, error) {
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret manager: %w", err)
	}
	return &SecretManagerResolver{client: c, closer: c.Close}, nil
}

// Resolve implements Resolver.
func (r *SecretManagerResolver) Resolve(ctx context.Context, ref string) (string, error) {
	name, err := secretName(ref)
	if err != nil {
		return "", err
	}
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("access %s: %w", name, err)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

// Close releases the client.
func (r *SecretManagerResolver) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// secretName converts sm://projects/p/secrets/s[/versions/v] to a resource
// name, defaulting the version to latest.
func secretName(ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, SecretScheme)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadSecretRef, ref)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 4 && parts[0] == "projects" && parts[2] == "secrets":
		parts = append(parts, "versions", "latest")
	case len(parts) == 6 && parts[0] == "projects" && parts[2] == "secrets" && parts[4] == "versions":
	default:
		return "", fmt.Errorf("%w: %q", ErrBadSecretRef, ref)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrBadSecretRef, ref)
		}
	}
	return strings.Join(parts, "/"), nil
}
