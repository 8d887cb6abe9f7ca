package main

import (
	"log/slog"

	"channelkeys/internal/service"

	"github.com/spf13/cobra"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Enable encryption on a channel or rotate its key",
}

var channelEnableCmd = &cobra.Command{
	Use:   "enable <channel>",
	Short: "Encrypt a channel and wrap version 1 for everyone with access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssue(cmd, args[0], true)
	},
}

var channelRotateCmd = &cobra.Command{
	Use:   "rotate <channel>",
	Short: "Issue the next key version for everyone with access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssue(cmd, args[0], false)
	},
}

func runIssue(cmd *cobra.Command, channelID string, enable bool) error {
	ctx := cmd.Context()
	id, err := loadIdentity()
	if err != nil {
		return err
	}
	st, closeStore, err := openTenant(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(service.WithLogger(slog.Default()))
	var issued *service.Issued
	if enable {
		issued, err = svc.EnableEncryption(ctx, st, channelID, id)
	} else {
		issued, err = svc.RotateKey(ctx, st, channelID, id)
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"channel":    issued.ChannelID,
		"version":    issued.Version,
		"recipients": issued.Recipients,
	})
}

func init() {
	channelCmd.AddCommand(channelEnableCmd, channelRotateCmd)
}
