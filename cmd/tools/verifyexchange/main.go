// verifyexchange exercises one exchange adapter against the real venue
// API: discovery, recent history, and the live rate. No database needed.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/exchange/registry"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

func main() {
	var (
		list          bool
		historyDays   int
		contractIndex int
		previewLimit  int
	)
	rootCmd := &cobra.Command{
		Use:   "verifyexchange [exchange-id]",
		Short: "Verify an exchange adapter with real API calls",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if list {
				printRegistry()
				return
			}
			if len(args) == 0 {
				_ = cmd.Help()
				fmt.Println("\nExample: verifyexchange hyperliquid")
				os.Exit(1)
			}
			if historyDays < 1 {
				fmt.Println("[FAIL] --history-days must be >= 1")
				os.Exit(1)
			}
			if previewLimit < 1 {
				fmt.Println("[FAIL] --preview-limit must be >= 1")
				os.Exit(1)
			}
			if !verify(cmd.Context(), args[0], historyDays, contractIndex, previewLimit) {
				os.Exit(1)
			}
		},
	}
	rootCmd.Flags().BoolVar(&list, "list", false, "list available exchange ids and exit")
	rootCmd.Flags().IntVar(&historyDays, "history-days", 7, "how many past days to request in the history check")
	rootCmd.Flags().IntVar(&contractIndex, "contract-index", 0, "index of the discovered contract to use for deep checks")
	rootCmd.Flags().IntVar(&previewLimit, "preview-limit", 5, "how many contracts to show in the preview table")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printRegistry() {
	adapters := registry.Build(fetch.NewClient())
	fmt.Println("Available exchange IDs:")
	for _, id := range registry.SortedIDs(adapters) {
		fmt.Printf("  - %s\n", id)
	}
}

func verify(ctx context.Context, id string, historyDays, contractIndex, previewLimit int) bool {
	fmt.Printf("\nVerifying exchange adapter: %s\n\n", id)

	adapters := registry.Build(fetch.NewClient())
	adapter, ok := adapters[exchange.ID(id)]
	if !ok {
		ids := registry.SortedIDs(adapters)
		names := make([]string, len(ids))
		for i, eid := range ids {
			names[i] = string(eid)
		}
		fmt.Printf("[FAIL] Exchange %q not found in registry.\nAvailable exchanges: %s\n", id, strings.Join(names, ", "))
		return false
	}

	fmt.Println("Step 1: Adapter surface")
	fmt.Printf("  [OK] id: %s\n", adapter.ID())
	fmt.Printf("  [OK] history fetch step: %dh\n", adapter.FetchStep())

	fmt.Println("\nStep 2: GetContracts")
	contracts, err := adapter.GetContracts(ctx)
	if err != nil {
		fmt.Printf("  [FAIL] GetContracts failed: %v\n", err)
		return false
	}
	fmt.Printf("  [OK] Retrieved %d contracts\n", len(contracts))
	if len(contracts) == 0 {
		fmt.Println("  [FAIL] GetContracts returned an empty list")
		return false
	}
	printPreview(contracts, previewLimit)

	if contractIndex < 0 || contractIndex >= len(contracts) {
		fmt.Printf("  [FAIL] Invalid --contract-index %d. Allowed range: 0..%d\n", contractIndex, len(contracts)-1)
		return false
	}
	info := contracts[contractIndex]
	contract := &model.Contract{
		ID:              uuid.New(),
		AssetName:       info.AssetName,
		QuoteName:       info.Quote,
		SectionName:     id,
		FundingInterval: info.FundingInterval,
	}

	fmt.Printf("\nStep 3: FetchHistoryAfter for %s\n", contract.Label())
	after := time.Now().UTC().AddDate(0, 0, -historyDays)
	history, err := adapter.FetchHistoryAfter(ctx, contract, after)
	if err != nil {
		fmt.Printf("  [FAIL] FetchHistoryAfter failed: %v\n", err)
		return false
	}
	fmt.Printf("  [OK] Retrieved %d funding points\n", len(history))
	if len(history) > 0 {
		oldest, newest := history[0].Timestamp, history[0].Timestamp
		for _, p := range history[1:] {
			if p.Timestamp.Before(oldest) {
				oldest = p.Timestamp
			}
			if p.Timestamp.After(newest) {
				newest = p.Timestamp
			}
		}
		sample := history[0]
		pct := sample.Rate.Mul(decimal.NewFromInt(100))
		fmt.Printf("  Date range: %s -> %s\n", oldest.Format(time.RFC3339), newest.Format(time.RFC3339))
		fmt.Printf("  Sample rate: %s (%s%%)\n", sample.Rate.StringFixed(6), pct.StringFixed(4))
		if oldest.Before(after) {
			fmt.Println("  [WARN] History includes points before the requested lower bound")
		}
	} else {
		fmt.Println("  [WARN] No history points returned. Could be expected for new listings.")
	}

	fmt.Println("\nStep 4: FetchLive")
	rates, err := adapter.FetchLive(ctx, []*model.Contract{contract})
	if err != nil {
		fmt.Printf("  [FAIL] FetchLive failed: %v\n", err)
		return false
	}
	fmt.Printf("  [OK] FetchLive returned %d rates\n", len(rates))
	if len(rates) > 0 {
		for _, point := range rates {
			pct := point.Rate.Mul(decimal.NewFromInt(100))
			fmt.Printf("  Sample: %s = %s (%s%%)\n", contract.Label(), point.Rate.StringFixed(6), pct.StringFixed(4))
			break
		}
	} else {
		fmt.Println("  [WARN] FetchLive returned no rate for the selected contract")
	}

	fmt.Printf("\n[OK] All checks passed for %s\n\n", id)
	return true
}

func printPreview(contracts []exchange.ContractInfo, limit int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  INDEX\tASSET\tQUOTE\tINTERVAL")
	for i, info := range contracts {
		if i >= limit {
			break
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%dh\n", i, info.AssetName, info.Quote, info.FundingInterval)
	}
	if len(contracts) > limit {
		fmt.Fprintln(w, "  ...\t...\t...\t...")
	}
	w.Flush()
}
