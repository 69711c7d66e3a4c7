package cmdutils_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/identity"
	"github.com/dnitsch/awsome-broker/internal/profile"
	"github.com/rs/zerolog"
)

// AwsMockHandler answers the Cognito identity JSON protocol and the STS
// query protocol on a single endpoint.
func AwsMockHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target := r.Header.Get("X-Amz-Target")
		switch {
		case strings.HasSuffix(target, ".GetId"):
			w.Header().Set("Content-Type", "application/x-amz-json-1.1")
			w.Write([]byte(`{"IdentityId":"us-east-1:11111111-2222-3333-4444-555555555555"}`))
		case strings.HasSuffix(target, ".GetCredentialsForIdentity"):
			w.Header().Set("Content-Type", "application/x-amz-json-1.1")
			w.Write([]byte(`{"IdentityId":"us-east-1:11111111-2222-3333-4444-555555555555","Credentials":{"AccessKeyId":"ASIABASELINE","SecretKey":"baseline-secret","SessionToken":"baseline-session","Expiration":1.9e9}}`))
		default:
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if r.Form.Get("Action") != "AssumeRole" {
				http.Error(w, "unexpected action "+r.Form.Get("Action"), http.StatusBadRequest)
				return
			}
			if !strings.Contains(r.Header.Get("Authorization"), "ASIABASELINE") {
				t.Errorf("assume role signed with %s, wanted the baseline credential", r.Header.Get("Authorization"))
			}
			w.Header().Set("Content-Type", "text/xml")
			w.Write([]byte(`<AssumeRoleResponse xmlns="https://sts.amazonaws.com/doc/2011-06-15/">
  <AssumeRoleResult>
    <AssumedRoleUser>
      <Arn>arn:aws:sts::123456789012:assumed-role/Ops/Ops@123456789012</Arn>
      <AssumedRoleId>ARO123EXAMPLE123:Ops@123456789012</AssumedRoleId>
    </AssumedRoleUser>
    <Credentials>
      <AccessKeyId>ASIADELEGATED</AccessKeyId>
      <SecretAccessKey>delegated-secret</SecretAccessKey>
      <SessionToken>delegated-session</SessionToken>
      <Expiration>2030-11-01T20:26:47Z</Expiration>
    </Credentials>
  </AssumeRoleResult>
  <ResponseMetadata>
    <RequestId>c6104cbe-af31-11e0-8154-cbc7ccf896c7</RequestId>
  </ResponseMetadata>
</AssumeRoleResponse>`))
		}
	})
	return mux
}

func baseConf() credentialexchange.CredentialConfig {
	conf := credentialexchange.DefaultCredentialConfig()
	conf.BaseConfig.Region = "us-east-1"
	conf.BaseConfig.IdentityPoolId = "us-east-1:pool"
	conf.IssuerUrl = "https://issuer.example.com"
	conf.ClientId = "client"
	return conf
}

func Test_ValidateConfig_with(t *testing.T) {
	ttests := map[string]struct {
		conf   func() credentialexchange.CredentialConfig
		errTyp error
	}{
		"complete oidc config": {
			conf: baseConf,
		},
		"missing region and pool": {
			conf: func() credentialexchange.CredentialConfig {
				c := baseConf()
				c.BaseConfig.Region = ""
				c.BaseConfig.IdentityPoolId = ""
				return c
			},
			errTyp: cmdutils.ErrMissingArg,
		},
		"oidc without client id": {
			conf: func() credentialexchange.CredentialConfig {
				c := baseConf()
				c.ClientId = ""
				return c
			},
			errTyp: cmdutils.ErrMissingArg,
		},
		"web id without provider key": {
			conf: func() credentialexchange.CredentialConfig {
				c := baseConf()
				c.Method = credentialexchange.METHOD_WEB_ID
				return c
			},
			errTyp: cmdutils.ErrMissingArg,
		},
		"unknown method": {
			conf: func() credentialexchange.CredentialConfig {
				c := baseConf()
				c.Method = "SAML"
				return c
			},
			errTyp: cmdutils.ErrUnknownMethod,
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			err := cmdutils.ValidateConfig(tt.conf())
			if tt.errTyp == nil {
				if err != nil {
					t.Errorf("got %s, wanted <nil>", err)
				}
				return
			}
			if !errors.Is(err, tt.errTyp) {
				t.Errorf("got %v, wanted %s", err, tt.errTyp)
			}
		})
	}
}

func Test_ProviderKey(t *testing.T) {
	conf := baseConf()
	if got := cmdutils.ProviderKey(conf); got != "issuer.example.com" {
		t.Errorf("got %s, wanted %s", got, "issuer.example.com")
	}
	conf.BaseConfig.ProviderKey = "accounts.google.com"
	if got := cmdutils.ProviderKey(conf); got != "accounts.google.com" {
		t.Errorf("got %s, wanted %s", got, "accounts.google.com")
	}
}

func Test_NewProfileStore_with(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ttests := map[string]struct {
		store  string
		errTyp error
	}{
		"default ini": {store: ""},
		"keyring":     {store: "keyring"},
		"unknown":     {store: "vault", errTyp: cmdutils.ErrUnknownStore},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			conf := baseConf()
			conf.ProfileStore = tt.store
			got, err := cmdutils.NewProfileStore(conf, path.Join(t.TempDir(), ".awsome-broker.ini"))
			if tt.errTyp != nil {
				if !errors.Is(err, tt.errTyp) {
					t.Errorf("got %v, wanted %s", err, tt.errTyp)
				}
				return
			}
			if err != nil {
				t.Fatalf("got %s, wanted <nil>", err)
			}
			if got == nil {
				t.Fatal("got nil store")
			}
		})
	}
}

func Test_NewIdentityProvider_web_id(t *testing.T) {
	tokenFile := path.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("web-id-token"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(credentialexchange.WEB_ID_TOKEN_VAR, tokenFile)

	conf := baseConf()
	conf.Method = credentialexchange.METHOD_WEB_ID
	idp, err := cmdutils.NewIdentityProvider(context.TODO(), conf, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	tok, _ := idp.IdentityToken(context.TODO())
	if tok != "web-id-token" {
		t.Errorf("got %s, wanted %s", tok, "web-id-token")
	}
}

func Test_NewBroker_reset_and_assume_against_mock_aws(t *testing.T) {
	ts := httptest.NewServer(AwsMockHandler(t))
	defer ts.Close()

	tokenFile := path.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("web-id-token"), 0o600); err != nil {
		t.Fatal(err)
	}

	conf := baseConf()
	cfg := aws.Config{
		Region:       "us-east-1",
		Credentials:  aws.AnonymousCredentials{},
		BaseEndpoint: aws.String(ts.URL),
	}
	b := cmdutils.NewBroker(cfg, conf, identity.NewFileProvider(tokenFile), zerolog.Nop())

	base, err := b.Reset(context.TODO())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if base.AWSAccessKey != "ASIABASELINE" {
		t.Errorf("got %s, wanted %s", base.AWSAccessKey, "ASIABASELINE")
	}

	target := profile.Profile{AccountId: "123456789012", Role: "Ops", Region: "eu-west-1"}.Target(conf.BaseConfig.Region)
	delegated, err := b.AssumeDelegation(context.TODO(), target)
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if delegated.AWSAccessKey != "ASIADELEGATED" || delegated.Region != "eu-west-1" {
		t.Errorf("unexpected delegated credential: %s", fmt.Sprint(delegated.AWSAccessKey, " ", delegated.Region))
	}
	if delegated.PrincipalARN != "arn:aws:sts::123456789012:assumed-role/Ops/Ops@123456789012" {
		t.Errorf("got %s, wanted assumed role arn", delegated.PrincipalARN)
	}
}
