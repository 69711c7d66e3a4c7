// Package endpoint serves the broker over loopback HTTP, in the format the
// AWS SDKs read from credential_process and container credential endpoints.
package endpoint

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/profile"
	"github.com/rs/zerolog"
)

type Broker interface {
	Current() *credentialexchange.Credential
	Reset(ctx context.Context) (credentialexchange.Credential, error)
	AssumeDelegation(ctx context.Context, target credentialexchange.DelegationTarget) (credentialexchange.Credential, error)
}

type Handler struct {
	broker        Broker
	store         profile.Store
	defaultRegion string
	authToken     string
	log           zerolog.Logger
	mux           *http.ServeMux
}

type Opt func(*Handler)

// WithAuthToken requires "Authorization: Bearer <token>" on every request
func WithAuthToken(token string) Opt {
	return func(h *Handler) {
		h.authToken = token
	}
}

func WithLogger(l zerolog.Logger) Opt {
	return func(h *Handler) {
		h.log = l
	}
}

func New(broker Broker, store profile.Store, defaultRegion string, opts ...Opt) *Handler {
	h := &Handler{
		broker:        broker,
		store:         store,
		defaultRegion: defaultRegion,
		log:           zerolog.Nop(),
		mux:           http.NewServeMux(),
	}
	for _, o := range opts {
		o(h)
	}
	h.mux.HandleFunc("GET /credentials", h.credentials)
	h.mux.HandleFunc("POST /reset", h.reset)
	h.mux.HandleFunc("POST /assume", h.assume)
	h.mux.HandleFunc("GET /profiles", h.profiles)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" {
		auth := r.Header.Get("Authorization")
		expectedAuth := "Bearer " + h.authToken
		if auth == "" || subtle.ConstantTimeCompare([]byte(auth), []byte(expectedAuth)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) credentials(w http.ResponseWriter, r *http.Request) {
	cred := h.broker.Current()
	if cred == nil {
		http.Error(w, "no credential available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, h.log, http.StatusOK, cred)
}

// Summary describes a published credential without its secrets
type Summary struct {
	AccessKeyId string    `json:"accessKeyId"`
	Region      string    `json:"region"`
	Expiration  time.Time `json:"expiration"`
	Principal   string    `json:"principal,omitempty"`
}

func summarise(c credentialexchange.Credential) Summary {
	return Summary{
		AccessKeyId: c.AWSAccessKey,
		Region:      c.Region,
		Expiration:  c.Expires,
		Principal:   c.PrincipalARN,
	}
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	cred, err := h.broker.Reset(r.Context())
	if err != nil {
		h.fail(w, "reset", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, summarise(cred))
}

type assumeRequest struct {
	Name      string `json:"name"`
	AccountId string `json:"accountId"`
	Role      string `json:"role"`
	Region    string `json:"region"`
	Label     string `json:"label"`
}

func (h *Handler) assume(w http.ResponseWriter, r *http.Request) {
	req := assumeRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := profile.Resolve(h.store, req.Name, profile.Profile{Name: req.Label, AccountId: req.AccountId, Role: req.Role, Region: req.Region})
	if err != nil {
		h.fail(w, "assume", err)
		return
	}

	cred, err := h.broker.AssumeDelegation(r.Context(), p.Target(h.defaultRegion))
	if err != nil {
		h.fail(w, "assume", err)
		return
	}

	if r.URL.Query().Get("save") == "true" {
		if _, err := profile.Remember(h.store, p); err != nil {
			h.log.Error().Err(err).Msg("saving profile")
		}
	}
	writeJSON(w, h.log, http.StatusOK, summarise(cred))
}

func (h *Handler) profiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.Load()
	if err != nil {
		h.fail(w, "profiles", err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, profiles)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	h.log.Error().Err(err).Str("op", op).Int("status", status).Msg("request failed")
	http.Error(w, http.StatusText(status), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, credentialexchange.ErrMissingToken), errors.Is(err, credentialexchange.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, profile.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, profile.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, credentialexchange.ErrDelegation):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encoding response")
	}
}
