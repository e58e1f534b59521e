package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/app"
	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/config"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		userID int64
		name   string
		avatar string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token signed with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			cfg, _, err := root.load(config.Config{})
			if err != nil {
				return err
			}

			token, err := auth.GenerateToken(app.JWTConfig(&cfg), userID, name, avatar)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	return cmd
}
