package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"budgetapp/internal/amqp"
	apphttp "budgetapp/internal/http"
	applog "budgetapp/internal/log"
	"budgetapp/internal/services"
	"budgetapp/internal/signature"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Validate the data directory, then serve the expense and budget API.

Mutating requests must carry an X-Signature header unless
REQUIRE_SIGNATURE=false. When AMQP_URL is set every expense change is
published as an event.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if !cfg.RequireSignature {
			logger.WithComponent(applog.ComponentSecurity).Warn("Request signatures are NOT enforced; anyone who can reach the port can modify data")
		}

		store := newStore()
		if _, err := ensureStorage(cmd, store); err != nil {
			return err
		}

		var publisher services.EventPublisher
		if cfg.EventsEnabled() {
			client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(applog.ComponentAMQP))
			if err != nil {
				// Events are best effort; the files stay the source of truth.
				logger.Warn("AMQP unavailable, expense events disabled", applog.FieldError, err)
			} else {
				defer client.Close()
				publisher = client
				logger.Info("Publishing expense events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
			}
		}

		expenses := newExpenseService(store, publisher)
		budget := services.NewBudgetService(store, expenses, logger.WithComponent(applog.ComponentBudget))

		srv := apphttp.NewServer(apphttp.Options{
			Addr:     cfg.Addr(),
			Expenses: expenses,
			Budget:   budget,
			Verifier: signature.NewVerifier(cfg.Secret, cfg.RequireSignature),
			Ready: func(context.Context) error {
				_, err := store.LoadLedger()
				return err
			},
			Logger:             logger.WithComponent(applog.ComponentHTTP),
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			ListCacheSize:      cfg.ListCacheSize,
			ListCacheTTL:       cfg.ListCacheTTL,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Starting budgetapp server",
				"port", cfg.Port,
				"data_dir", cfg.DataDir,
				"signatures", cfg.RequireSignature,
				"events", publisher != nil,
			)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info("Shutdown signal received", applog.FieldOperation, applog.OpShutdown)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
