package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/ui"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Lock the journal and end the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.New(cmd.Context(), cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Logout(cmd.Context()); err != nil {
			return err
		}
		stderr(ui.Success("journal locked"))
		if cfg.SessionToken != "" {
			stderr(ui.Hint("Remove the token from this shell with", "unset MOODLOCK_SESSION"))
		}
		return nil
	},
}
