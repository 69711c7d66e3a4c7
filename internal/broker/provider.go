package broker

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
)

var ErrNoCredential = errors.New("no credential published")

// Source is anything holding a current credential, usually a *Broker
type Source interface {
	Current() *credentialexchange.Credential
}

// CredentialsProvider lets any aws-sdk-go-v2 client sign with the
// currently published credential.
type CredentialsProvider struct {
	src Source
}

var _ aws.CredentialsProvider = (*CredentialsProvider)(nil)

func NewCredentialsProvider(src Source) *CredentialsProvider {
	return &CredentialsProvider{src: src}
}

func (p *CredentialsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	c := p.src.Current()
	if c == nil {
		return aws.Credentials{}, ErrNoCredential
	}
	return aws.Credentials{
		AccessKeyID:     c.AWSAccessKey,
		SecretAccessKey: c.AWSSecretKey,
		SessionToken:    c.AWSSessionToken,
		Source:          credentialexchange.SELF_NAME,
		CanExpire:       !c.Expires.IsZero(),
		Expires:         c.Expires,
	}, nil
}
