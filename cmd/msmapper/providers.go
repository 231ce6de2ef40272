// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/M0hamedSayed/MSMapper/internal/ledger"
	"github.com/M0hamedSayed/MSMapper/internal/secrets"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured AI providers and their limits",
	Long: `Providers lists every configured provider profile with its model,
rate limits, and token prices, and whether an API key is available.
With --usage it also prints the usage recorded in the ledger.`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().Bool("usage", false, "include recorded usage totals from the ledger")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	if gw == nil {
		fmt.Fprintln(w, "No providers configured.")
	} else {
		printProfiles(w, gw.Profiles(), cfg.Mapping.Provider)
	}

	if withUsage, _ := cmd.Flags().GetBool("usage"); !withUsage {
		return nil
	}
	store, err := ledger.NewStore(cfg.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	totals, err := store.UsageByProvider(context.Background())
	if err != nil {
		return err
	}
	printUsage(w, totals)
	return nil
}

func printProfiles(w io.Writer, profiles []types.ProviderProfile, selected string) {
	fmt.Fprintf(w, "%-1s %-16s  %-17s  %-24s  %6s  %7s  %8s  %-4s\n",
		"", "Name", "Kind", "Model", "RPM", "RPD", "TPM", "Key")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, p := range profiles {
		mark := ""
		if p.Name == selected {
			mark = "*"
		}
		key := "no"
		if p.APIKey != "" || loadedSecrets[secrets.KeyFor(p.Name)] != "" {
			key = "yes"
		}
		if p.Kind == types.ProviderLocalInference || p.Kind == types.ProviderCustom {
			key = "-"
		}
		fmt.Fprintf(w, "%-1s %-16s  %-17s  %-24s  %6s  %7s  %8s  %-4s\n",
			mark, p.Name, p.Kind, p.Model,
			limit(p.Limits.RequestsPerMinute), limit(p.Limits.RequestsPerDay), limit(p.Limits.TokensPerMinute), key)
		if p.Limits.CostPerInputToken > 0 || p.Limits.CostPerOutputToken > 0 {
			fmt.Fprintf(w, "  %-16s  cost per token: in %g, out %g\n", "", p.Limits.CostPerInputToken, p.Limits.CostPerOutputToken)
		}
	}
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprint(n)
}

func printUsage(w io.Writer, totals []ledger.ProviderTotal) {
	fmt.Fprintln(w)
	if len(totals) == 0 {
		fmt.Fprintln(w, "No provider usage recorded.")
		return
	}
	fmt.Fprintf(w, "%-16s  %8s  %6s  %10s  %10s  %10s\n", "Provider", "Sessions", "Calls", "In tokens", "Out tokens", "Cost")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, t := range totals {
		fmt.Fprintf(w, "%-16s  %8d  %6d  %10d  %10d  %10.4f\n",
			t.Provider, t.Sessions, t.Calls, t.InputTokens, t.OutputTokens, t.Cost)
	}
}
