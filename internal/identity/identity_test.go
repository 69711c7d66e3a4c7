package identity_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientId = "broker-client"

type mockIssuer struct {
	t         *testing.T
	srv       *httptest.Server
	key       *rsa.PrivateKey
	mu        sync.Mutex
	challenge string
	refreshes int
	noRefresh bool
}

func newMockIssuer(t *testing.T) *mockIssuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	m := &mockIssuer{t: t, key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                m.srv.URL,
			"authorization_endpoint":                m.srv.URL + "/authorize",
			"token_endpoint":                        m.srv.URL + "/token",
			"jwks_uri":                              m.srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("POST /token", m.tokenHandler)
	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockIssuer) idToken(sub string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   m.srv.URL,
		"aud":   clientId,
		"sub":   sub,
		"email": sub + "@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(m.key)
	require.NoError(m.t, err)
	return s
}

func (m *mockIssuer) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := map[string]any{
		"access_token": "access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if r.PostForm.Get("code") != "code-1" || base64.RawURLEncoding.EncodeToString(sum[:]) != m.challenge {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		resp["id_token"] = m.idToken("user-1")
		if !m.noRefresh {
			resp["refresh_token"] = "refresh-1"
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		m.refreshes++
		resp["id_token"] = m.idToken("user-refreshed")
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// authorize plays the browser: records the PKCE challenge and redirects
// back with a code and the state it was given.
func (m *mockIssuer) authorize(code string, tamperState bool) identity.AuthorizeFunc {
	return func(ctx context.Context, authURL string) (string, error) {
		u, err := url.Parse(authURL)
		if err != nil {
			return "", err
		}
		q := u.Query()
		m.mu.Lock()
		m.challenge = q.Get("code_challenge")
		m.mu.Unlock()
		if q.Get("code_challenge_method") != "S256" {
			m.t.Errorf("got %s, wanted S256", q.Get("code_challenge_method"))
		}
		state := q.Get("state")
		if tamperState {
			state = "other"
		}
		return q.Get("redirect_uri") + "?code=" + code + "&state=" + state, nil
	}
}

func newProvider(t *testing.T, m *mockIssuer, authorize identity.AuthorizeFunc) *identity.OIDCProvider {
	p, err := identity.NewOIDCProvider(context.TODO(), identity.OIDCConfig{
		IssuerUrl:   m.srv.URL,
		ClientId:    clientId,
		RedirectUrl: "http://localhost:8976/callback",
	}, authorize, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func Test_OIDCProvider_Login_with(t *testing.T) {
	ttests := map[string]struct {
		code        string
		tamperState bool
		expectErr   error
	}{
		"succeeds with pkce and matching state": {
			code: "code-1",
		},
		"state mismatch": {
			code:        "code-1",
			tamperState: true,
			expectErr:   identity.ErrStateMismatch,
		},
		"rejected code": {
			code:      "code-2",
			expectErr: identity.ErrAuthorization,
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			m := newMockIssuer(t)
			p := newProvider(t, m, m.authorize(tt.code, tt.tamperState))

			before, err := p.IdentityToken(context.TODO())
			require.NoError(t, err)
			assert.Empty(t, before)

			err = p.Login(context.TODO())
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)

			tok, err := p.IdentityToken(context.TODO())
			require.NoError(t, err)
			claims, err := identity.Claims(tok)
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "user-1@example.com", claims.Name())
			assert.Equal(t, m.srv.URL, claims.Issuer)
		})
	}
}

func Test_OIDCProvider_ForceRefresh_uses_refresh_token(t *testing.T) {
	m := newMockIssuer(t)
	p := newProvider(t, m, m.authorize("code-1", false))
	require.NoError(t, p.Login(context.TODO()))

	require.NoError(t, p.ForceRefresh(context.TODO()))
	require.NoError(t, p.ForceRefresh(context.TODO()))

	tok, err := p.IdentityToken(context.TODO())
	require.NoError(t, err)
	claims, err := identity.Claims(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-refreshed", claims.Subject)
	assert.Equal(t, 2, m.refreshes, "refresh token kept across refreshes")
}

func Test_OIDCProvider_ForceRefresh_without_refresh_token(t *testing.T) {
	m := newMockIssuer(t)
	m.noRefresh = true

	p := newProvider(t, m, nil)
	require.ErrorIs(t, p.ForceRefresh(context.TODO()), identity.ErrNoRefreshToken)

	p = newProvider(t, m, m.authorize("code-1", false))
	require.NoError(t, p.ForceRefresh(context.TODO()), "falls back to interactive login")
	tok, _ := p.IdentityToken(context.TODO())
	assert.NotEmpty(t, tok)
}

func Test_NewOIDCProvider_discovery_failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := identity.NewOIDCProvider(context.TODO(), identity.OIDCConfig{IssuerUrl: srv.URL, ClientId: clientId}, nil, zerolog.Nop())
	assert.True(t, errors.Is(err, identity.ErrProviderFailure))
}

func Test_ProviderKey(t *testing.T) {
	ttests := map[string]struct {
		issuer string
		expect string
	}{
		"https":          {"https://accounts.example.com", "accounts.example.com"},
		"trailing slash": {"https://cognito-idp.us-east-1.amazonaws.com/us-east-1_abc/", "cognito-idp.us-east-1.amazonaws.com/us-east-1_abc"},
		"no scheme":      {"issuer.example.com", "issuer.example.com"},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expect, identity.ProviderKey(tt.issuer))
		})
	}
}

func Test_FileProvider(t *testing.T) {
	file := path.Join(t.TempDir(), "token")
	p := identity.NewFileProvider(file)

	tok, err := p.IdentityToken(context.TODO())
	require.NoError(t, err)
	assert.Empty(t, tok, "missing file means no token")

	require.NoError(t, os.WriteFile(file, []byte("token-1\n"), 0o600))
	tok, err = p.IdentityToken(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	require.NoError(t, os.WriteFile(file, []byte("token-2"), 0o600))
	tok, _ = p.IdentityToken(context.TODO())
	assert.Equal(t, "token-1", tok, "held until refreshed")

	require.NoError(t, p.ForceRefresh(context.TODO()))
	tok, _ = p.IdentityToken(context.TODO())
	assert.Equal(t, "token-2", tok)
}

func Test_NewFileProviderFromEnv(t *testing.T) {
	t.Setenv(credentialexchange.WEB_ID_TOKEN_VAR, "")
	_, err := identity.NewFileProviderFromEnv()
	require.ErrorIs(t, err, credentialexchange.ErrMissingEnvVar)
}

func Test_Claims_rejects_garbage(t *testing.T) {
	_, err := identity.Claims("not-a-jwt")
	assert.Error(t, err)
}
