// Package identity provides the identity tokens the broker exchanges for
// AWS credentials.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var (
	ErrNoIdToken       = errors.New("token response carried no id_token")
	ErrStateMismatch   = errors.New("authorization state mismatch")
	ErrAuthorization   = errors.New("authorization failed")
	ErrNoRefreshToken  = errors.New("no refresh token available")
	ErrProviderFailure = errors.New("oidc provider failure")
)

type OIDCConfig struct {
	IssuerUrl   string
	ClientId    string
	RedirectUrl string
	Scopes      []string
}

// AuthorizeFunc sends the user to authURL and returns the URL the
// provider redirected back to.
type AuthorizeFunc func(ctx context.Context, authURL string) (string, error)

// OIDCProvider signs the user in with the authorization code flow and PKCE
// and keeps the resulting id_token.
type OIDCProvider struct {
	mu        sync.Mutex
	oauth     *oauth2.Config
	verifier  *oidc.IDTokenVerifier
	token     *oauth2.Token
	idToken   string
	authorize AuthorizeFunc
	log       zerolog.Logger
}

func NewOIDCProvider(ctx context.Context, conf OIDCConfig, authorize AuthorizeFunc, log zerolog.Logger) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, conf.IssuerUrl)
	if err != nil {
		return nil, fmt.Errorf("discovery for %s: %s, %w", conf.IssuerUrl, err, ErrProviderFailure)
	}

	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:    conf.ClientId,
			Endpoint:    provider.Endpoint(),
			RedirectURL: conf.RedirectUrl,
			Scopes:      scopes(conf.Scopes),
		},
		verifier:  provider.Verifier(&oidc.Config{ClientID: conf.ClientId}),
		authorize: authorize,
		log:       log,
	}, nil
}

func scopes(in []string) []string {
	out := []string{oidc.ScopeOpenID}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && s != oidc.ScopeOpenID {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		out = append(out, "email", oidc.ScopeOfflineAccess)
	}
	return out
}

// Login runs the authorization code flow through the AuthorizeFunc
func (p *OIDCProvider) Login(ctx context.Context) error {
	if p.authorize == nil {
		return fmt.Errorf("no interactive login configured, %w", ErrAuthorization)
	}
	state, err := randomState()
	if err != nil {
		return err
	}
	verifier := oauth2.GenerateVerifier()
	authURL := p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	p.log.Debug().Str("issuer", p.oauth.Endpoint.AuthURL).Msg("starting authorization")
	redirected, err := p.authorize(ctx, authURL)
	if err != nil {
		return fmt.Errorf("%s, %w", err, ErrAuthorization)
	}

	code, err := codeFromRedirect(redirected, state)
	if err != nil {
		return err
	}

	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("code exchange: %s, %w", err, ErrAuthorization)
	}
	return p.setToken(ctx, tok)
}

func codeFromRedirect(redirected, state string) (string, error) {
	u, err := url.Parse(redirected)
	if err != nil {
		return "", fmt.Errorf("%s, %w", err, ErrAuthorization)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("%s: %s, %w", e, q.Get("error_description"), ErrAuthorization)
	}
	if q.Get("state") != state {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect carried no code, %w", ErrAuthorization)
	}
	return code, nil
}

// IdentityToken returns the current id_token, empty if not signed in
func (p *OIDCProvider) IdentityToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken, nil
}

// ForceRefresh uses the refresh token grant to obtain a new id_token. Without
// a refresh token the interactive login is run again.
func (p *OIDCProvider) ForceRefresh(ctx context.Context) error {
	p.mu.Lock()
	var refresh string
	if p.token != nil {
		refresh = p.token.RefreshToken
	}
	p.mu.Unlock()

	if refresh == "" {
		if p.authorize == nil {
			return ErrNoRefreshToken
		}
		p.log.Debug().Msg("no refresh token, signing in again")
		return p.Login(ctx)
	}

	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return fmt.Errorf("refresh: %s, %w", err, ErrAuthorization)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	return p.setToken(ctx, tok)
}

func (p *OIDCProvider) setToken(ctx context.Context, tok *oauth2.Token) error {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return ErrNoIdToken
	}
	idt, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return fmt.Errorf("id_token verification: %s, %w", err, ErrAuthorization)
	}

	p.mu.Lock()
	p.token = tok
	p.idToken = raw
	p.mu.Unlock()

	p.log.Debug().Str("subject", idt.Subject).Time("expires", idt.Expiry).Msg("id_token stored")
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ProviderKey is the Cognito login key for an issuer, the issuer URL
// without its scheme.
func ProviderKey(issuerUrl string) string {
	key := strings.TrimPrefix(strings.TrimPrefix(issuerUrl, "https://"), "http://")
	return strings.TrimSuffix(key, "/")
}
