package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the data directory and compare ledger with shards",
	Long: `Run the startup validation (invalid files are backed up and reset),
then report expense ids that appear only in the full ledger or only in
the per-date shards. Exits non-zero when the two disagree.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		storageReport, err := ensureStorage(cmd, store)
		if err != nil {
			return err
		}

		report, err := newExpenseService(store, nil).Verify(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if checkJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"storage": storageReport, "consistency": report}); err != nil {
				return err
			}
		} else {
			for _, f := range storageReport.Files {
				fmt.Fprintf(out, "%-9s %s\n", f.Outcome, f.Path)
			}
			fmt.Fprintf(out, "ledger: %d expenses, shards: %d expenses\n", report.LedgerCount, report.ShardCount)
			for _, id := range report.OnlyInLedger {
				fmt.Fprintf(out, "only in ledger: %s\n", id)
			}
			for _, id := range report.OnlyInShards {
				fmt.Fprintf(out, "only in shards: %s\n", id)
			}
		}

		if !report.Consistent() {
			return fmt.Errorf("ledger and shards disagree on %d ids; run \"budgetapp reshard\" to rebuild shards",
				len(report.OnlyInLedger)+len(report.OnlyInShards))
		}
		return nil
	},
}

var reshardCmd = &cobra.Command{
	Use:   "reshard",
	Short: "Rebuild every per-date shard from the full ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		if _, err := ensureStorage(cmd, store); err != nil {
			return err
		}
		n, err := newExpenseService(store, nil).Reshard(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rewrote %d shards\n", n)
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-ids",
	Short: "Assign ids to ledger records that lack one",
	Long: `Assign content-based ids to legacy ledger records without an id, then
rebuild the shards.

Startup validation is skipped on purpose: records without ids fail the
ledger schema and would otherwise be reset before they can be repaired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		n, err := newExpenseService(newStore(), nil).BackfillIDs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "assigned %d ids\n", n)
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the reports as JSON")
	rootCmd.AddCommand(checkCmd, reshardCmd, backfillCmd)
}
