package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/security"
	"github.com/illarion/moodlock/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import <resource> <id> <file>",
	Short: "Store an unencrypted entry from before encryption",
	Long: `Stores a JSON file as a plain entry. Plain entries are readable with the
journal's key like any other and are encrypted by the next "moodlock rotate".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sb, err := security.New(".")
		if err != nil {
			return err
		}
		defer sb.Close()
		data, err := sb.ReadFile(args[2])
		if err != nil {
			return err
		}

		m, err := core.New(cmd.Context(), cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Import(args[0], args[1], data); err != nil {
			return err
		}
		stderr(ui.Success(fmt.Sprintf("imported %s/%s", args[0], args[1])))
		stderr(ui.Hint("Encrypt plain entries with", "moodlock rotate"))
		return nil
	},
}
