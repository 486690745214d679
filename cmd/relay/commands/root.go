package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/config"
	"github.com/xelth-com/chatrelay/internal/logger"
)

var (
	cfg *config.Config
	log *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Encrypted-at-rest chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			if log, err = logger.New(cfg.NodeEnv, cfg.LogLevel); err != nil {
				return err
			}
			zap.ReplaceGlobals(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.AddCommand(serveCmd(), keygenCmd(), decryptCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
