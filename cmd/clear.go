package cmd

import (
	"fmt"

	"github.com/dnitsch/awsome-broker/internal/cmdutils"
	"github.com/spf13/cobra"
)

var (
	force         bool
	clearProfiles bool
	clearCmd      = &cobra.Command{
		Use:   "clear-cache <flags>",
		Short: "Clears the browser session data and optionally the saved profiles",
		Args:  cobra.NoArgs,
		RunE:  clearCache,
	}
)

func init() {
	clearCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "If a previous run exited improperly there could be hanging browser processes left over - this will clean them up forcefully")
	clearCmd.PersistentFlags().BoolVarP(&clearProfiles, "profiles", "", false, "Also remove every saved delegation profile")
	RootCmd.AddCommand(clearCmd)
}

func clearCache(cmd *cobra.Command, args []string) error {
	if force {
		if err := cmdutils.NewWebConfig(conf, logger).ClearCache(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Chromium Cache cleared")
	}
	if clearProfiles {
		store, err := cmdutils.NewProfileStore(conf, cfgFile)
		if err != nil {
			return err
		}
		if err := store.Save(nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved profiles removed")
	}
	return nil
}
