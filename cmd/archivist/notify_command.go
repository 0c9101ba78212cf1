package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"archivist/internal/daemon"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sent, message, err := daemon.SendTestNotification(cmd.Context(), cfg)
			if err != nil {
				if message != "" {
					fmt.Fprintln(cmd.OutOrStdout(), message)
				}
				return err
			}
			switch {
			case sent:
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			case message != "":
				fmt.Fprintln(cmd.OutOrStdout(), message)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
			}
			return nil
		},
	})
	return notifyCmd
}
