package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"budgetapp/internal/config"
	"budgetapp/internal/ident"
	applog "budgetapp/internal/log"
	"budgetapp/internal/services"
	"budgetapp/internal/storage"
)

var (
	dataDir   string
	schemaDir string
	logLevel  string

	cfg    *config.Config
	logger *applog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "budgetapp",
	Short: "Personal expense tracker with a weekly budget",
	Long: `budgetapp records dated expenses in JSON files and tracks them against
a weekly budget.

Run "budgetapp serve" for the HTTP API. The remaining commands inspect and
repair the data directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Optional in production, where the environment is set directly.
		_ = godotenv.Load()

		cfg = config.Load()
		flags := cmd.Flags()
		if flags.Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if flags.Changed("schema-dir") {
			cfg.SchemaDir = schemaDir
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		// Logs go to stderr so command output on stdout stays machine readable.
		logger = applog.New(applog.Config{
			Level:     applog.ParseLevel(cfg.LogLevel),
			Component: applog.ComponentApp,
			Output:    cmd.ErrOrStderr(),
		})
		applog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "data directory (overrides DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&schemaDir, "schema-dir", "./schemata", "schema directory (overrides SCHEMA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error (overrides LOG_LEVEL)")
}

func newStore() *storage.Store {
	return storage.NewStore(cfg.DataDir, cfg.SchemaDir, logger.WithComponent(applog.ComponentStorage))
}

func newExpenseService(store *storage.Store, publisher services.EventPublisher) *services.ExpenseService {
	return services.NewExpenseService(store, ident.New(), publisher, logger.WithComponent(applog.ComponentExpense))
}

// ensureStorage prepares the data directory and summarises the outcome.
// Individual recoveries are logged by the store itself.
func ensureStorage(cmd *cobra.Command, store *storage.Store) (storage.Report, error) {
	report, err := store.EnsureStorage(cmd.Context())
	if err != nil {
		return report, fmt.Errorf("prepare data directory: %w", err)
	}
	logger.Info("Storage ready",
		"data_dir", store.DataDir(),
		"files", len(report.Files),
		"recovered", len(report.Recovered()),
	)
	return report, nil
}
