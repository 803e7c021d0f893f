package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/ui"
)

var rmCmd = &cobra.Command{
	Use:   "rm <resource> <id>",
	Short: "Delete a journal entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.New(cmd.Context(), cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Delete(args[0], args[1]); err != nil {
			return err
		}
		stderr(ui.Success(fmt.Sprintf("deleted %s/%s", args[0], args[1])))
		return nil
	},
}
