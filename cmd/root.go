package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/dnitsch/awsome-broker/internal/broker"
	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/util"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgSectionName string
	cfgFile        string
	method         string
	verbose        bool
	conf           credentialexchange.CredentialConfig
	logger         = zerolog.Nop()
	RootCmd        = &cobra.Command{
		Use:   credentialexchange.SELF_NAME,
		Short: "CLI tool for brokering AWS temporary credentials from an identity token",
		Long: `CLI tool for brokering AWS temporary credentials.
Exchanges an OIDC or web identity token with a Cognito identity pool for a baseline credential,
optionally assumes a role in another account from a fresh baseline, and hands the result out
in credential_process format or over a local endpoint.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		util.Exit(err)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", fmt.Sprintf("Path to the ini config file, defaults to $HOME/.%s.ini", credentialexchange.SELF_NAME))
	RootCmd.PersistentFlags().StringVarP(&cfgSectionName, "cfg-section", "", "", "config section name in the ini config file")
	RootCmd.PersistentFlags().StringVarP(&method, "method", "m", "", "Override the identity method in the config [OIDC, WEB_ID]")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func initConfig(cmd *cobra.Command, args []string) error {
	logger = util.NewLogger(cmd.ErrOrStderr(), verbose)
	if cfgFile == "" {
		cfgFile = credentialexchange.ConfigIniFile(credentialexchange.HomeDir())
	}
	c, err := credentialexchange.LoadCredentialConfig(cfgFile, cfgSectionName)
	if err != nil {
		return err
	}
	if method != "" {
		c.Method = method
	}
	conf = c
	logger.Debug().Str("config", cfgFile).Str("section", conf.BaseConfig.CfgSectionName).Msg("config loaded")
	return nil
}

type session struct {
	broker *broker.Broker
	idp    broker.IdentityProvider
	cfg    aws.Config
}

// newSession signs in with the configured identity method and returns a
// broker with nothing published yet.
func newSession(ctx context.Context) (*session, error) {
	if err := cmdutils.ValidateConfig(conf); err != nil {
		return nil, err
	}
	idp, err := cmdutils.NewIdentityProvider(ctx, conf, cmdutils.NewWebConfig(conf, logger), logger)
	if err != nil {
		return nil, err
	}
	cfg, err := cmdutils.AWSConfig(ctx, conf.BaseConfig.Region)
	if err != nil {
		return nil, err
	}
	return &session{broker: cmdutils.NewBroker(cfg, conf, idp, logger), idp: idp, cfg: cfg}, nil
}
