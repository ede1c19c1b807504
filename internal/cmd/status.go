package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/web8kameleon-hub/tokengate/internal/handlers"
	"github.com/web8kameleon-hub/tokengate/internal/models"
	"github.com/web8kameleon-hub/tokengate/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node and token pool counts",
	Long:  "Query the server for active nodes, pending and verified token counts, and optionally the state of one token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokenID, _ := cmd.Flags().GetString("token-id")

		report, err := newAPIClient().Status(cmd.Context(), tokenID)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		return output.Render(cmd.OutOrStdout(), outputFormat, report, func() *output.Table {
			return statusTable(report)
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show operational info",
	Long:  "Show network, custodial balance, market health, operational limits and the rate limit policy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := newAPIClient().Info(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get info: %w", err)
		}
		return output.Render(cmd.OutOrStdout(), outputFormat, report, func() *output.Table {
			return infoTable(report)
		})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Execute a transfer",
	Long: `Request a transfer from the custodial account. Requires an operator token
(see "tokengate token issue").

Examples:
  tokengate transfer --to <address> --amount 10
  tokengate transfer --to <address> --amount 10 --physical-token ABC123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		amountStr, _ := cmd.Flags().GetString("amount")
		tokenID, _ := cmd.Flags().GetString("physical-token")
		requirePhysical, _ := cmd.Flags().GetBool("require-physical")

		if to == "" {
			return fmt.Errorf("--to is required")
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("invalid --amount %q: %w", amountStr, err)
		}

		outcome, err := newAPIClient().Transfer(cmd.Context(), models.TransferRequest{
			To:                          to,
			Amount:                      amount,
			PhysicalTokenID:             tokenID,
			RequirePhysicalVerification: requirePhysical,
		})
		if err != nil {
			return fmt.Errorf("transfer failed: %w", err)
		}

		w := cmd.OutOrStdout()
		if outputFormat != output.FormatTable {
			return output.Render(w, outputFormat, outcome, nil)
		}
		output.Success(w, "Transfer executed: %s", outcome.Reference)
		output.Info(w, "Amount: %s (%.2f USD)", outcome.Amount.String(), outcome.AmountUSD)
		output.Info(w, "Recipient: %s", outcome.To)
		output.Info(w, "Network: %s", outcome.Network)
		output.Info(w, "Risk tier: %s", outcome.Decision.Risk.Tier)
		output.Info(w, "Audit ID: %s", outcome.AuditID)
		for _, warning := range outcome.Decision.Warnings() {
			output.Warn(w, "%s: %s", warning.Check, warning.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("token-id", "", "include the state of this physical token")

	transferCmd.Flags().String("to", "", "recipient address (base58)")
	transferCmd.Flags().String("amount", "", "amount in token units")
	transferCmd.Flags().String("physical-token", "", "physical token ID that must be verified")
	transferCmd.Flags().Bool("require-physical", false, "require physical verification")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(transferCmd)
}

func statusTable(r *models.StatusReport) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("Active nodes", strconv.Itoa(r.ActiveNodes))
	t.AddRow("Pending tokens", strconv.Itoa(r.Pending))
	t.AddRow("Verified tokens", strconv.Itoa(r.Verified))
	t.AddRow("Last activity", formatTime(r.LastActivity))
	if tok := r.Token; tok != nil {
		t.AddRow("Token", tok.TokenID)
		t.AddRow("  found", strconv.FormatBool(tok.Found))
		if tok.Event != nil {
			t.AddRow("  status", string(tok.Event.Status))
			t.AddRow("  node", tok.Event.NodeID)
			if tok.Event.FailureReason != "" {
				t.AddRow("  failure", tok.Event.FailureReason)
			}
		}
		t.AddRow("  usable", strconv.FormatBool(tok.Usable))
	}
	return t
}

func infoTable(r *handlers.InfoReport) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("Status", r.Status)
	t.AddRow("Network", r.Network)
	t.AddRow("Transfers enabled", strconv.FormatBool(r.TransfersEnabled))
	if r.SourceAccount != "" {
		t.AddRow("Source account", r.SourceAccount)
	}
	if r.SourceBalance != nil {
		t.AddRow("Source balance", fmt.Sprintf("%s (%.2f USD)", r.SourceBalance.String(), r.SourceBalanceUSD))
	}
	if r.Error != "" {
		t.AddRow("Error", r.Error)
	}
	t.AddRow("Price", fmt.Sprintf("%.6f USD", r.Market.PriceUSD))
	t.AddRow("Liquidity", fmt.Sprintf("%.2f USD", r.Market.LiquidityUSD))
	t.AddRow("Asset verified", strconv.FormatBool(r.Market.Verified))
	t.AddRow("Health score", strconv.Itoa(r.Security.Score))
	if len(r.Security.Alerts) > 0 {
		t.AddRow("Alerts", strings.Join(r.Security.Alerts, "; "))
	}
	t.AddRow("Max transfer", fmt.Sprintf("%.2f USD", r.Limits.MaxTransferUSD))
	t.AddRow("Recommended max", fmt.Sprintf("%.2f USD", r.Limits.RecommendedMaxUSD))
	t.AddRow("Rate limit", fmt.Sprintf("%d per recipient per %s", r.RateLimit.PerRecipient, r.RateLimit.Window))
	return t
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
