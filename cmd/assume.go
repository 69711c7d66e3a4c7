package cmd

import (
	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/dnitsch/awsome-broker/internal/profile"
	"github.com/spf13/cobra"
)

var (
	accountId   string
	roleName    string
	roleRegion  string
	saveProfile bool
	assumeCmd   = &cobra.Command{
		Use:   "assume [profile name]",
		Short: "Assume a role in another account and write the credential to stdout",
		Long: `Assumes a role from a freshly obtained baseline credential.
Either name a saved profile, or pass --account and --role. The positional name becomes the
profile name when --account is given and --save stores it for later use.`,
		Args: cobra.MaximumNArgs(1),
		RunE: assume,
	}
)

func init() {
	assumeCmd.PersistentFlags().StringVarP(&accountId, "account", "a", "", "12 digit account id of the role to assume")
	assumeCmd.PersistentFlags().StringVarP(&roleName, "role", "r", "", "Name of the role to assume")
	assumeCmd.PersistentFlags().StringVarP(&roleRegion, "region", "", "", "Region of the delegated credential, defaults to the configured region")
	assumeCmd.PersistentFlags().BoolVarP(&saveProfile, "save", "s", false, "Save the profile once the role has been assumed")
	RootCmd.AddCommand(assumeCmd)
}

func assume(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	store, err := cmdutils.NewProfileStore(conf, cfgFile)
	if err != nil {
		return err
	}
	p, err := profile.Resolve(store, name, profile.Profile{AccountId: accountId, Role: roleName, Region: roleRegion})
	if err != nil {
		return err
	}

	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	cred, err := sess.broker.AssumeDelegation(cmd.Context(), p.Target(conf.BaseConfig.Region))
	if err != nil {
		return err
	}

	if saveProfile {
		added, err := profile.Remember(store, p)
		if err != nil {
			return err
		}
		logger.Info().Str("profile", p.Label()).Bool("added", added).Msg("profile saved")
	}
	return credentialexchange.WriteCredentialProcess(cmd.OutOrStdout(), cred)
}
