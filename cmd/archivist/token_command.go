package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/api"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Admin API credentials",
	}
	tokenCmd.AddCommand(newTokenIssueCommand(ctx))
	return tokenCmd
}

func newTokenIssueCommand(ctx *commandContext) *cobra.Command {
	var subject string
	var scope string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tokens, err := api.NewTokenService(cfg)
			if err != nil {
				return err
			}
			token, expires, err := tokens.Sign(strings.TrimSpace(subject), strings.TrimSpace(scope))
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.TokenResponse{Token: token, ExpiresAt: api.FormatTime(expires)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", api.FormatTime(expires))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&scope, "scope", api.ScopeAdmin, "Token scope: admin or read")
	return cmd
}
