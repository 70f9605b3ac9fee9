package main

import (
	"fmt"
	"time"

	"github.com/goodtune/duet/internal/config"
	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/storage"
	"github.com/spf13/cobra"
)

var (
	tokenRole string
)

var tokenCmd = &cobra.Command{
	Use:   "token [flags] PAIR_ID",
	Short: "Issue a member session token",
	Long:  `Sign a session token for one member of a pair with the configured JWT secret.`,
	Example: `  duet token --role member1 6f1c...
  duet -c config.yaml token --role member2 6f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "Member role: member1 or member2 (required)")
	_ = tokenCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	role, err := storage.ParseRole(tokenRole)
	if err != nil {
		return err
	}

	resolver := identity.NewResolver(cfg.Auth.JWTSecret, config.ParseDuration(cfg.Auth.TokenExpiration, identity.DefaultTokenExpiration))
	token, expiresAt, err := resolver.IssueToken(args[0], role)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
