package cmd

import (
	"fmt"

	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/dnitsch/awsome-broker/internal/profile"
	"github.com/spf13/cobra"
)

var (
	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved delegation profiles",
	}
	listProfilesCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved delegation profiles",
		Args:  cobra.NoArgs,
		RunE:  listProfiles,
	}
	removeProfileCmd = &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove every saved profile for an account",
		Args:  cobra.ExactArgs(1),
		RunE:  removeProfile,
	}
)

func init() {
	profilesCmd.AddCommand(listProfilesCmd, removeProfileCmd)
	RootCmd.AddCommand(profilesCmd)
}

func listProfiles(cmd *cobra.Command, args []string) error {
	store, err := cmdutils.NewProfileStore(conf, cfgFile)
	if err != nil {
		return err
	}
	profiles, err := store.Load()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no saved profiles"))
		return nil
	}
	for _, p := range profiles {
		printFields(cmd.OutOrStdout(),
			field{"profile", p.Label()},
			field{"role", p.RoleArn()},
			field{"region", p.Region},
		)
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func removeProfile(cmd *cobra.Command, args []string) error {
	store, err := cmdutils.NewProfileStore(conf, cfgFile)
	if err != nil {
		return err
	}
	n, err := profile.Forget(store, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d profile(s) for %s\n", n, args[0])
	return nil
}
