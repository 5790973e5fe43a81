package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"budgetapp/internal/amqp"
	applog "budgetapp/internal/log"
	"budgetapp/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print expense events from the AMQP queue as JSON lines",
	Long: `Consume the expense event queue and print one JSON object per event
until interrupted. Redelivered events are printed once. Requires AMQP_URL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.EventsEnabled() {
			return errors.New("AMQP_URL is not set")
		}

		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(applog.ComponentAMQP))
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := worker.NewEventWorker(cmd.OutOrStdout(), logger.WithComponent(applog.ComponentAMQP))
		err = client.Consume(ctx, func(event *amqp.ExpenseEvent) error {
			return w.HandleEvent(ctx, event)
		})

		stats := w.Stats()
		logger.Info("Stopped watching",
			"created", stats.Created,
			"updated", stats.Updated,
			"deleted", stats.Deleted,
			"duplicates", stats.Duplicates,
		)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
