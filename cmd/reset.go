package cmd

import (
	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Get a fresh baseline credential and write it to stdout",
	Long: `Exchanges the identity token with the Cognito identity pool for a baseline credential.
The output is the credential_process payload, so it can be used directly in ~/.aws/config`,
	Args: cobra.NoArgs,
	RunE: reset,
}

func init() {
	RootCmd.AddCommand(resetCmd)
}

func reset(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd.Context())
	if err != nil {
		return err
	}
	cred, err := sess.broker.Reset(cmd.Context())
	if err != nil {
		return err
	}
	return credentialexchange.WriteCredentialProcess(cmd.OutOrStdout(), cred)
}
