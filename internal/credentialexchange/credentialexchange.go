package credentialexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

var (
	ErrMissingToken       = errors.New("identity token missing")
	ErrIdentityResolution = errors.New("identity id retrieval failed")
	ErrCredentialExchange = errors.New("failed to retrieve credentials")
	ErrTokenExpired       = errors.New("identity token expired")
	ErrDelegation         = errors.New("failed to assume role")
	ErrUnableToValidate   = errors.New("unable to validate credential")
)

// Credential is a set of temporary AWS credentials scoped to a region.
// Values are replaced, never modified, once handed out.
type Credential struct {
	Version         int
	AWSAccessKey    string    `json:"AccessKeyId"`
	AWSSecretKey    string    `json:"SecretAccessKey"`
	AWSSessionToken string    `json:"SessionToken"`
	PrincipalARN    string    `json:"-"`
	Expires         time.Time `json:"Expiration"`
	Region          string    `json:"-"`
}

// MarshalJSON emits the credential_process payload, omitting Expiration
// when the credential does not carry one.
func (c Credential) MarshalJSON() ([]byte, error) {
	out := struct {
		Version         int
		AccessKeyId     string
		SecretAccessKey string
		SessionToken    string
		Expiration      string `json:",omitempty"`
	}{
		Version:         c.Version,
		AccessKeyId:     c.AWSAccessKey,
		SecretAccessKey: c.AWSSecretKey,
		SessionToken:    c.AWSSessionToken,
	}
	if out.Version == 0 {
		out.Version = 1
	}
	if !c.Expires.IsZero() {
		out.Expiration = c.Expires.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// IsEmpty reports whether any of the three secrets is missing
func (c Credential) IsEmpty() bool {
	return c.AWSAccessKey == "" || c.AWSSecretKey == "" || c.AWSSessionToken == ""
}

func (c Credential) awsCredentials() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AWSAccessKey,
		SecretAccessKey: c.AWSSecretKey,
		SessionToken:    c.AWSSessionToken,
		Source:          SELF_NAME,
		CanExpire:       !c.Expires.IsZero(),
		Expires:         c.Expires,
	}
}

// BaselineCredential is a credential tied to the user's own federated
// identity. Only IdentityPool can produce a non-empty one.
type BaselineCredential struct {
	cred Credential
}

func (b BaselineCredential) Credential() Credential {
	return b.cred
}

// DelegatedCredential is the result of assuming a role with a baseline
// credential. It cannot be used as the caller of another delegation.
type DelegatedCredential struct {
	cred Credential
}

func (d DelegatedCredential) Credential() Credential {
	return d.cred
}

// DelegationTarget describes the role to assume
type DelegationTarget struct {
	RoleArn      string
	SessionLabel string
	Region       string
}

type CognitoIdentityApi interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

type PoolConfig struct {
	IdentityPoolId string
	ProviderKey    string
	Region         string
}

// IdentityPool turns an identity token into a federated identity id and
// the identity id into a baseline credential.
type IdentityPool struct {
	svc  CognitoIdentityApi
	conf PoolConfig
}

func NewIdentityPool(svc CognitoIdentityApi, conf PoolConfig) *IdentityPool {
	return &IdentityPool{svc: svc, conf: conf}
}

func (p *IdentityPool) logins(token string) map[string]string {
	return map[string]string{p.conf.ProviderKey: token}
}

// ResolveIdentity exchanges the identity token for a federated identity id.
// The id is never cached.
func (p *IdentityPool) ResolveIdentity(ctx context.Context, token string) (string, error) {
	resp, err := p.svc.GetId(ctx, &cognitoidentity.GetIdInput{
		IdentityPoolId: aws.String(p.conf.IdentityPoolId),
		Logins:         p.logins(token),
	})
	if err != nil {
		return "", classify(err, ErrIdentityResolution)
	}
	if resp == nil || aws.ToString(resp.IdentityId) == "" {
		return "", fmt.Errorf("pool %s returned no identity id, %w", p.conf.IdentityPoolId, ErrIdentityResolution)
	}
	return aws.ToString(resp.IdentityId), nil
}

// BaselineCredential retrieves temporary credentials for the identity id,
// presenting the same identity token again.
func (p *IdentityPool) BaselineCredential(ctx context.Context, identityId, token string) (BaselineCredential, error) {
	resp, err := p.svc.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(identityId),
		Logins:     p.logins(token),
	})
	if err != nil {
		return BaselineCredential{}, classify(err, ErrCredentialExchange)
	}
	if resp == nil || resp.Credentials == nil {
		return BaselineCredential{}, fmt.Errorf("no credentials for identity %s, %w", identityId, ErrCredentialExchange)
	}
	cred := Credential{
		Version:         1,
		AWSAccessKey:    aws.ToString(resp.Credentials.AccessKeyId),
		AWSSecretKey:    aws.ToString(resp.Credentials.SecretKey),
		AWSSessionToken: aws.ToString(resp.Credentials.SessionToken),
		Expires:         aws.ToTime(resp.Credentials.Expiration),
		Region:          p.conf.Region,
	}
	if cred.IsEmpty() {
		return BaselineCredential{}, fmt.Errorf("incomplete credentials for identity %s, %w", identityId, ErrCredentialExchange)
	}
	return BaselineCredential{cred: cred}, nil
}

// IsTokenExpired reports whether err is the identity service rejecting an
// expired identity token.
func IsTokenExpired(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotAuthorizedException" &&
			strings.Contains(apiErr.ErrorMessage(), "Token expired")
	}
	return false
}

func classify(err error, fallback error) error {
	if IsTokenExpired(err) {
		return fmt.Errorf("%s, %w", err, ErrTokenExpired)
	}
	return fmt.Errorf("%s, %w", err, fallback)
}

type AssumeRoleApi interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// AssumeRoleClientFunc returns an STS client signing with the caller credentials
type AssumeRoleClientFunc func(caller aws.Credentials) AssumeRoleApi

// NewAssumeRoleClientFunc builds STS clients from cfg with the static
// caller credentials swapped in.
func NewAssumeRoleClientFunc(cfg aws.Config) AssumeRoleClientFunc {
	return func(caller aws.Credentials) AssumeRoleApi {
		return sts.NewFromConfig(cfg, func(o *sts.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(caller.AccessKeyID, caller.SecretAccessKey, caller.SessionToken)
		})
	}
}

// Delegation assumes a role on behalf of a baseline credential
type Delegation struct {
	newClient   AssumeRoleClientFunc
	maxDuration int
}

func NewDelegation(newClient AssumeRoleClientFunc, maxDuration int) *Delegation {
	if maxDuration <= 0 {
		maxDuration = DEFAULT_MAX_DURATION
	}
	return &Delegation{newClient: newClient, maxDuration: maxDuration}
}

// AssumeRole presents the caller's secrets to STS and returns the delegated
// credential. The region of the result is the target's region, the region
// STS reports is ignored.
func (d *Delegation) AssumeRole(ctx context.Context, caller BaselineCredential, target DelegationTarget) (DelegatedCredential, error) {
	if caller.cred.IsEmpty() {
		return DelegatedCredential{}, fmt.Errorf("caller credential is empty, %w", ErrDelegation)
	}

	svc := d.newClient(caller.cred.awsCredentials())
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(target.RoleArn),
		RoleSessionName: aws.String(target.SessionLabel),
		DurationSeconds: aws.Int32(int32(d.maxDuration)),
	}

	roleCreds, err := svc.AssumeRole(ctx, input)
	if err != nil {
		return DelegatedCredential{}, fmt.Errorf("failed to retrieve STS credentials for %s: %s, %w", target.RoleArn, err, ErrDelegation)
	}
	if roleCreds == nil || roleCreds.Credentials == nil {
		return DelegatedCredential{}, fmt.Errorf("STS returned empty credentials for %s, %w", target.RoleArn, ErrDelegation)
	}

	region := target.Region
	if region == "" {
		region = caller.cred.Region
	}

	cred := Credential{
		Version:         1,
		AWSAccessKey:    aws.ToString(roleCreds.Credentials.AccessKeyId),
		AWSSecretKey:    aws.ToString(roleCreds.Credentials.SecretAccessKey),
		AWSSessionToken: aws.ToString(roleCreds.Credentials.SessionToken),
		Expires:         aws.ToTime(roleCreds.Credentials.Expiration),
		Region:          region,
	}
	if cred.IsEmpty() {
		return DelegatedCredential{}, fmt.Errorf("STS returned incomplete credentials for %s, %w", target.RoleArn, ErrDelegation)
	}
	if roleCreds.AssumedRoleUser != nil {
		cred.PrincipalARN = aws.ToString(roleCreds.AssumedRoleUser.Arn)
	}
	return DelegatedCredential{cred: cred}, nil
}

type CallerIdentityApi interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// NewCallerIdentityClient returns an STS client signing with cred
func NewCallerIdentityClient(cfg aws.Config, cred Credential) CallerIdentityApi {
	return sts.NewFromConfig(cfg, func(o *sts.Options) {
		o.Credentials = credentials.NewStaticCredentialsProvider(cred.AWSAccessKey, cred.AWSSecretKey, cred.AWSSessionToken)
		if cred.Region != "" {
			o.Region = cred.Region
		}
	})
}

// IsValid checks the credential against STS and the reload-before window.
// svc must be signing with currentCreds.
func IsValid(ctx context.Context, currentCreds *Credential, reloadBeforeTime int, svc CallerIdentityApi) (bool, error) {
	if currentCreds == nil {
		return false, nil
	}

	if _, err := svc.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		var oe smithy.APIError
		if errors.As(err, &oe) {
			if oe.ErrorCode() == "ExpiredToken" {
				return false, nil
			}
		}
		return false, fmt.Errorf("%s, %w", err, ErrUnableToValidate)
	}

	if currentCreds.Expires.IsZero() {
		return true, nil
	}
	return !ReloadBeforeExpiry(currentCreds.Expires, reloadBeforeTime), nil
}
