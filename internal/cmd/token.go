package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/web8kameleon-hub/tokengate/internal/auth"
	"github.com/web8kameleon-hub/tokengate/internal/output"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token management",
	Long:  "Issue and inspect bearer tokens for the operator endpoints",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token",
	Long: `Issue a signed bearer token using auth.jwt_secret from the server config.

Examples:
  tokengate token issue --subject alice
  TOKENGATE_TOKEN=$(tokengate token issue --subject alice -o json | jq -r .token)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if subject == "" {
			return fmt.Errorf("--subject is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}

		token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).Issue(subject, roles)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputFormat != output.FormatTable {
			return output.Render(w, outputFormat, map[string]any{
				"token":      token,
				"subject":    subject,
				"roles":      roles,
				"expires_at": time.Now().Add(ttl).UTC(),
			}, nil)
		}
		output.Success(w, "Token issued for %s", subject)
		output.Info(w, "Roles: %v", roles)
		output.Info(w, "Expires: %s", time.Now().Add(ttl).UTC().Format(time.RFC3339))
		fmt.Fprintln(w, token)
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect [token]",
	Short: "Validate a bearer token and show its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		claims, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Validate(args[0])
		if err != nil {
			return fmt.Errorf("invalid token: %w", err)
		}
		return output.Render(cmd.OutOrStdout(), outputFormat, claims, func() *output.Table {
			t := output.NewTable("FIELD", "VALUE")
			t.AddRow("Subject", claims.Subject)
			t.AddRow("Roles", fmt.Sprintf("%v", claims.Roles))
			if claims.ExpiresAt != nil {
				t.AddRow("Expires", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
			}
			return t
		})
	},
}

func init() {
	tokenIssueCmd.Flags().String("subject", "", "token subject (operator name)")
	tokenIssueCmd.Flags().StringSlice("role", []string{auth.RoleOperator}, "roles to grant")
	tokenIssueCmd.Flags().Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
	rootCmd.AddCommand(tokenCmd)
}
