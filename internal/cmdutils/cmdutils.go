package cmdutils

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/dnitsch/awsome-broker/internal/broker"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/identity"
	"github.com/dnitsch/awsome-broker/internal/profile"
	"github.com/dnitsch/awsome-broker/internal/web"
	"github.com/rs/zerolog"
)

var (
	ErrMissingArg     = errors.New("missing arg")
	ErrUnknownMethod  = errors.New("unknown identity method")
	ErrUnknownStore   = errors.New("unknown profile store")
	ErrUnableToLogin  = errors.New("unable to sign in")
	ErrUnableToConfig = errors.New("unable to load aws config")
)

// ValidateConfig checks the settings every command needs are present
func ValidateConfig(conf credentialexchange.CredentialConfig) error {
	missing := []string{}
	if conf.BaseConfig.Region == "" {
		missing = append(missing, "region")
	}
	if conf.BaseConfig.IdentityPoolId == "" {
		missing = append(missing, "identity-pool-id")
	}

	switch conf.Method {
	case credentialexchange.METHOD_OIDC:
		if conf.IssuerUrl == "" {
			missing = append(missing, "issuer-url")
		}
		if conf.ClientId == "" {
			missing = append(missing, "client-id")
		}
	case credentialexchange.METHOD_WEB_ID:
		if conf.BaseConfig.ProviderKey == "" {
			missing = append(missing, "provider-key")
		}
	default:
		return fmt.Errorf("%q, %w", conf.Method, ErrUnknownMethod)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%s must be set in section %q, %w", strings.Join(missing, ", "), conf.BaseConfig.CfgSectionName, ErrMissingArg)
	}
	return nil
}

// ProviderKey is the configured Cognito login key, derived from the issuer
// when not set.
func ProviderKey(conf credentialexchange.CredentialConfig) string {
	if conf.BaseConfig.ProviderKey != "" {
		return conf.BaseConfig.ProviderKey
	}
	return identity.ProviderKey(conf.IssuerUrl)
}

func DataDir() string {
	return path.Join(credentialexchange.HomeDir(), fmt.Sprintf(".%s-data", credentialexchange.SELF_NAME))
}

func NewWebConfig(conf credentialexchange.CredentialConfig, log zerolog.Logger) *web.WebConfig {
	return web.NewWebConf(DataDir()).
		WithBrowserExecutable(conf.BrowserExecutablePath).
		WithLogger(log)
}

// NewIdentityProvider returns a signed in identity provider for conf.Method
func NewIdentityProvider(ctx context.Context, conf credentialexchange.CredentialConfig, webConf *web.WebConfig, log zerolog.Logger) (broker.IdentityProvider, error) {
	switch conf.Method {
	case credentialexchange.METHOD_WEB_ID:
		return identity.NewFileProviderFromEnv()
	case credentialexchange.METHOD_OIDC:
		p, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			IssuerUrl:   conf.IssuerUrl,
			ClientId:    conf.ClientId,
			RedirectUrl: conf.RedirectUrl,
			Scopes:      conf.Scopes,
		}, webConf.Authorizer(conf.RedirectUrl), log)
		if err != nil {
			return nil, err
		}
		if err := p.Login(ctx); err != nil {
			return nil, fmt.Errorf("%s, %w", err, ErrUnableToLogin)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%q, %w", conf.Method, ErrUnknownMethod)
	}
}

// AWSConfig loads the SDK config for region. Cognito identity calls are
// unsigned, every signed call gets its credentials explicitly.
func AWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%s, %w", err, ErrUnableToConfig)
	}
	return cfg, nil
}

// NewBroker wires the Cognito identity pool and STS delegation into a broker
func NewBroker(cfg aws.Config, conf credentialexchange.CredentialConfig, idp broker.IdentityProvider, log zerolog.Logger) *broker.Broker {
	pool := credentialexchange.NewIdentityPool(cognitoidentity.NewFromConfig(cfg), credentialexchange.PoolConfig{
		IdentityPoolId: conf.BaseConfig.IdentityPoolId,
		ProviderKey:    ProviderKey(conf),
		Region:         conf.BaseConfig.Region,
	})
	delegation := credentialexchange.NewDelegation(credentialexchange.NewAssumeRoleClientFunc(cfg), conf.BaseConfig.MaxDuration)

	opts := []broker.Opt{broker.WithLogger(log)}
	if conf.BaseConfig.CoalesceResets {
		opts = append(opts, broker.WithCoalescedResets())
	}
	return broker.New(idp, pool, delegation, opts...)
}

// NewProfileStore returns the store named in conf, cfgFile backs the ini store
func NewProfileStore(conf credentialexchange.CredentialConfig, cfgFile string) (profile.Store, error) {
	switch strings.ToLower(conf.ProfileStore) {
	case "", "ini":
		return profile.NewIniStore(cfgFile, credentialexchange.HomeDir())
	case "keyring":
		return profile.NewKeyringStore(Username(), credentialexchange.HomeDir())
	default:
		return nil, fmt.Errorf("%q, %w", conf.ProfileStore, ErrUnknownStore)
	}
}

func Username() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "default"
	}
	return u.Username
}
