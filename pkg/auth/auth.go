// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package auth provides slurmctl's outbound call authentication (the
// CLI-to-controller credential a client attaches to every RPC) and the
// controller's own partition-key signing, the munge-style credential a
// partition with RequireKey set gates
// submission on. The two sides share this package because both boil
// down to the same primitive: attach or verify a shared-secret signature.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/http"
)

// Identity is the submitting credential's resolved identity, carried on
// the wire as the three X-SLURM-USER-* headers TokenAuth.Authenticate
// sets and IdentityFromRequest reads back on the controller side.
type Identity struct {
	User   string
	UID    int32
	GID    int32
	Groups []string
}

// Provider defines the interface for authentication providers
type Provider interface {
	// Authenticate adds authentication to the HTTP request
	Authenticate(ctx context.Context, req *http.Request) error

	// Type returns the authentication type
	Type() string
}

// TokenAuth implements token-based authentication, the credential
// slurmctl attaches to every RPC it sends the controller.
type TokenAuth struct {
	token    string
	identity Identity
}

// NewTokenAuth creates a new token-based authentication provider
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// WithIdentity attaches the submitting user's resolved identity, so the
// controller can populate a job's UID/GID/Groups from the credential
// instead of trusting whatever the request body claims.
func (t *TokenAuth) WithIdentity(id Identity) *TokenAuth {
	t.identity = id
	return t
}

// Authenticate adds the token and, if set, the identity headers to the
// request.
func (t *TokenAuth) Authenticate(ctx context.Context, req *http.Request) error {
	req.Header.Set("X-SLURM-USER-TOKEN", t.token)
	if t.identity.User != "" {
		req.Header.Set("X-SLURM-USER-NAME", t.identity.User)
		req.Header.Set("X-SLURM-USER-UID", fmt.Sprintf("%d", t.identity.UID))
		req.Header.Set("X-SLURM-USER-GID", fmt.Sprintf("%d", t.identity.GID))
	}
	return nil
}

// Type returns the authentication type
func (t *TokenAuth) Type() string {
	return "token"
}

// IdentityFromRequest reads back the identity headers TokenAuth.Authenticate
// sets, the controller-side half of that handshake. ok is false when the
// caller didn't send an X-SLURM-USER-NAME header, e.g. an unauthenticated
// local request under NoAuth.
func IdentityFromRequest(req *http.Request) (id Identity, ok bool) {
	user := req.Header.Get("X-SLURM-USER-NAME")
	if user == "" {
		return Identity{}, false
	}
	var uid, gid int32
	fmt.Sscanf(req.Header.Get("X-SLURM-USER-UID"), "%d", &uid)
	fmt.Sscanf(req.Header.Get("X-SLURM-USER-GID"), "%d", &gid)
	return Identity{User: user, UID: uid, GID: gid}, true
}

// BasicAuth implements basic authentication
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a new basic authentication provider
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		username: username,
		password: password,
	}
}

// Authenticate adds basic auth to the request
func (b *BasicAuth) Authenticate(ctx context.Context, req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)
	return nil
}

// Type returns the authentication type
func (b *BasicAuth) Type() string {
	return "basic"
}

// NoAuth implements no authentication
type NoAuth struct{}

// NewNoAuth creates a new no-auth provider
func NewNoAuth() *NoAuth {
	return &NoAuth{}
}

// Authenticate is a no-op for no authentication
func (n *NoAuth) Authenticate(ctx context.Context, req *http.Request) error {
	return nil
}

// Type returns the authentication type
func (n *NoAuth) Type() string {
	return "none"
}

// HMACKeySigner signs and verifies a partition's submission key with
// HMAC-SHA256, the munge-style credential a RequireKey partition
// gates submission on. It satisfies internal/capability.KeySigner
// structurally; this package stays a leaf and does not import internal/
// packages.
type HMACKeySigner struct {
	secret []byte
}

// NewHMACKeySigner returns a signer keyed on secret (the controller's
// configured auth key). secret must not be empty.
func NewHMACKeySigner(secret []byte) *HMACKeySigner {
	return &HMACKeySigner{secret: secret}
}

// Sign returns payload's HMAC-SHA256 tag under the signer's secret.
func (h *HMACKeySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if len(h.secret) == 0 {
		return nil, fmt.Errorf("auth: HMACKeySigner has no secret configured")
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify reports whether signature is payload's valid HMAC-SHA256 tag,
// compared in constant time to avoid timing side-channels on the
// partition key check.
func (h *HMACKeySigner) Verify(ctx context.Context, payload, signature []byte) error {
	want, err := h.Sign(ctx, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, signature) {
		return fmt.Errorf("auth: partition key signature mismatch")
	}
	return nil
}