package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/config"
	"github.com/illarion/moodlock/internal/logging"
)

var (
	verbose bool

	cfg    *config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "moodlock",
		Short: "Moodlock - an end-to-end encrypted mood journal.",
		Long: `Moodlock keeps a mood journal encrypted with a key derived from your password.
The key never leaves this machine: entries are encrypted before they are stored
or sent to the API, and only you can read them.

Getting started:
  moodlock init                     Create a journal and set a password
  eval "$(moodlock login)"          Unlock it for this shell
  moodlock seal moods --data '{"mood_score":7}'
  moodlock list moods

Configuration is read from MOODLOCK_* environment variables and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			logger = logging.New(os.Stderr, level, cfg.LogFormat)
			slog.SetDefault(logger)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(recoveryCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(compactCmd)
}

// Execute runs the command line. Errors are returned for HandleError.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
