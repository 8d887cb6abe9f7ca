package main

import (
	"fmt"

	"channelkeys/internal/identityfile"
	"channelkeys/internal/keywrap"

	"github.com/spf13/cobra"
)

var workFactor int

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Create or inspect your sealed identity",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate an identity and seal it under the passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := passphrase()
		if err != nil {
			return err
		}
		id, err := keywrap.GenerateIdentity()
		if err != nil {
			return err
		}
		if err := identityfile.Save(identityPath, id, p, workFactor); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "identity written to %s\n", identityPath)
		fmt.Fprintln(cmd.OutOrStdout(), id.PublicID())
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public id of your identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := loadIdentity()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id.PublicID())
		return nil
	},
}

func init() {
	identityNewCmd.Flags().IntVar(&workFactor, "work-factor", identityfile.DefaultWorkFactor, "scrypt log2(N) for sealing")
	identityCmd.AddCommand(identityNewCmd, identityShowCmd)
}
