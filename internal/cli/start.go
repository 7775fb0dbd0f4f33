package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/mev-engine/solana-mev-pipeline/internal/app"
	"github.com/mev-engine/solana-mev-pipeline/internal/config"
	"github.com/mev-engine/solana-mev-pipeline/pkg/mempool"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pipeline",
	Long: `Start the pipeline: connect the transaction stream, begin endpoint health
probing, and run the evaluation and execution loop until stopped.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	application := fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		app.Module,
		fx.Invoke(func(lifecycle fx.Lifecycle, a *app.Application, stream *mempool.Stream) {
			lifecycle.Append(fx.Hook{
				OnStart: a.Start,
				OnStop:  a.Stop,
			})
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("shutdown signal received, stopping pipeline")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
	}
	return nil
}
