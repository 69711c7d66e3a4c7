// Package broker owns the current credential. It runs the baseline
// exchange and delegation protocols and publishes every result to its
// subscribers.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// IdentityProvider supplies the identity token. An empty token with a nil
// error means no token is available.
type IdentityProvider interface {
	IdentityToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

type BaselineExchanger interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
	BaselineCredential(ctx context.Context, identityId, token string) (credentialexchange.BaselineCredential, error)
}

type Delegator interface {
	AssumeRole(ctx context.Context, caller credentialexchange.BaselineCredential, target credentialexchange.DelegationTarget) (credentialexchange.DelegatedCredential, error)
}

type Broker struct {
	idp       IdentityProvider
	exchanger BaselineExchanger
	delegator Delegator
	feed      *Feed
	resets    *singleflight.Group
	log       zerolog.Logger
}

type Opt func(*Broker)

func WithLogger(l zerolog.Logger) Opt {
	return func(b *Broker) {
		b.log = l
	}
}

// WithCoalescedResets shares a single baseline exchange between Reset
// calls that overlap. Without it concurrent resets each exchange and the
// last one to finish is published last.
func WithCoalescedResets() Opt {
	return func(b *Broker) {
		b.resets = &singleflight.Group{}
	}
}

func New(idp IdentityProvider, exchanger BaselineExchanger, delegator Delegator, opts ...Opt) *Broker {
	b := &Broker{
		idp:       idp,
		exchanger: exchanger,
		delegator: delegator,
		feed:      NewFeed(),
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Current returns a copy of the published credential or nil
func (b *Broker) Current() *credentialexchange.Credential {
	return b.feed.Latest()
}

func (b *Broker) Subscribe(ctx context.Context) <-chan *credentialexchange.Credential {
	return b.feed.Subscribe(ctx)
}

// Reset exchanges the identity token for a baseline credential and
// publishes it, discarding any active delegation.
func (b *Broker) Reset(ctx context.Context) (credentialexchange.Credential, error) {
	if b.resets == nil {
		return b.reset(ctx)
	}
	// the shared exchange must outlive any single caller giving up
	v, err, shared := b.resets.Do("reset", func() (any, error) {
		return b.reset(context.WithoutCancel(ctx))
	})
	if shared {
		b.log.Debug().Msg("reset shared with an in-flight exchange")
	}
	if err != nil {
		return credentialexchange.Credential{}, err
	}
	return v.(credentialexchange.Credential), nil
}

func (b *Broker) reset(ctx context.Context) (credentialexchange.Credential, error) {
	base, err := b.baseline(ctx)
	if err != nil {
		return credentialexchange.Credential{}, err
	}
	cred := base.Credential()
	b.feed.Publish(cred)
	b.log.Info().Str("access_key", keyPrefix(cred.AWSAccessKey)).Time("expires", cred.Expires).Msg("baseline credential published")
	return cred, nil
}

// AssumeDelegation performs a fresh baseline exchange, assumes target with
// it and publishes the delegated credential. On failure the published
// credential is left untouched.
func (b *Broker) AssumeDelegation(ctx context.Context, target credentialexchange.DelegationTarget) (credentialexchange.Credential, error) {
	base, err := b.baseline(ctx)
	if err != nil {
		return credentialexchange.Credential{}, err
	}

	delegated, err := b.delegator.AssumeRole(ctx, base, target)
	if err != nil {
		if !errors.Is(err, credentialexchange.ErrDelegation) {
			err = fmt.Errorf("%s, %w", err, credentialexchange.ErrDelegation)
		}
		b.log.Error().Err(err).Str("role", target.RoleArn).Msg("delegation failed")
		return credentialexchange.Credential{}, err
	}

	cred := delegated.Credential()
	if cred.IsEmpty() {
		err := fmt.Errorf("%s returned an incomplete credential, %w", target.RoleArn, credentialexchange.ErrDelegation)
		b.log.Error().Err(err).Str("role", target.RoleArn).Msg("delegation failed")
		return credentialexchange.Credential{}, err
	}
	b.feed.Publish(cred)
	b.log.Info().Str("role", target.RoleArn).Str("region", cred.Region).Str("access_key", keyPrefix(cred.AWSAccessKey)).Msg("delegated credential published")
	return cred, nil
}

type attempt int

const (
	firstAttempt attempt = iota
	retried
)

// baseline runs token -> identity -> credential. An expired token gets one
// forced refresh and one more run, a second expiry is returned.
func (b *Broker) baseline(ctx context.Context) (credentialexchange.BaselineCredential, error) {
	state := firstAttempt
	for {
		cred, err := b.exchange(ctx)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, credentialexchange.ErrTokenExpired) || state == retried {
			return credentialexchange.BaselineCredential{}, err
		}

		b.log.Debug().Err(err).Msg("identity token expired, forcing a session refresh")
		if err := b.idp.ForceRefresh(ctx); err != nil {
			return credentialexchange.BaselineCredential{}, fmt.Errorf("session refresh: %s, %w", err, credentialexchange.ErrTokenExpired)
		}
		state = retried
	}
}

func (b *Broker) exchange(ctx context.Context) (credentialexchange.BaselineCredential, error) {
	token, err := b.idp.IdentityToken(ctx)
	if err != nil {
		return credentialexchange.BaselineCredential{}, fmt.Errorf("%s, %w", err, credentialexchange.ErrMissingToken)
	}
	if token == "" {
		return credentialexchange.BaselineCredential{}, credentialexchange.ErrMissingToken
	}

	identityId, err := b.exchanger.ResolveIdentity(ctx, token)
	if err != nil {
		return credentialexchange.BaselineCredential{}, err
	}
	if identityId == "" {
		return credentialexchange.BaselineCredential{}, credentialexchange.ErrIdentityResolution
	}
	b.log.Debug().Str("identity_id", identityId).Msg("identity resolved")

	return b.exchanger.BaselineCredential(ctx, identityId, token)
}

func keyPrefix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4] + "..."
}
