package cmd

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/dnitsch/awsome-broker/internal/broker"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/identity"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show who the identity token and the baseline credential belong to",
	Args:  cobra.NoArgs,
	RunE:  whoami,
}

func init() {
	RootCmd.AddCommand(whoamiCmd)
}

func whoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	cred, err := sess.broker.Reset(ctx)
	if err != nil {
		return err
	}

	svc := sts.NewFromConfig(sess.cfg, func(o *sts.Options) {
		o.Credentials = aws.NewCredentialsCache(broker.NewCredentialsProvider(sess.broker))
	})
	caller, err := svc.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return err
	}
	valid, err := credentialexchange.IsValid(ctx, &cred, conf.BaseConfig.ReloadBeforeTime, credentialexchange.NewCallerIdentityClient(sess.cfg, cred))
	if err != nil {
		return err
	}

	fields := []field{}
	if token, _ := sess.idp.IdentityToken(ctx); token != "" {
		if claims, err := identity.Claims(token); err == nil {
			fields = append(fields, field{"user", claims.Name()}, field{"issuer", claims.Issuer})
		}
	}
	validity := "expiring"
	if valid {
		validity = "valid"
	}
	fields = append(fields,
		field{"account", aws.ToString(caller.Account)},
		field{"arn", aws.ToString(caller.Arn)},
		field{"region", cred.Region},
		field{"expires", cred.Expires.Local().Format(time.RFC1123)},
		field{"status", validity},
	)
	printFields(cmd.OutOrStdout(), fields...)
	return nil
}
