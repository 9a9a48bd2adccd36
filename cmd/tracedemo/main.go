// tracedemo runs a small pool of queue threads over a set of compute jobs, logging with the context
// each line was written from (e.g. "main:queueThread:compute").
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sharnoff/tracectx"
)

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "tracedemo",
		Short:        "Demonstrate context tracking across a pool of worker goroutines",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			signals := tracectx.NewSignalManager()
			defer signals.Stop()

			// OS signals are forwarded to shutdown, whose hooks carry the context they were
			// registered from
			forward := signals.WithErrorHandler(func(_ context.Context, err error) error {
				log.Error("shutdown hook failed", zap.Error(err))
				return nil
			})
			for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
				_ = forward.On(sig, cmd.Context(), func(ctx context.Context) error {
					return signals.Trigger(shutdown, ctx)
				})
			}

			return run(signals, cfg.Demo, log)
		},
	}
	opts.bind(cmd)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
