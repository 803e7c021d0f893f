package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an encrypted journal",
	Long: `Creates the journal in MOODLOCK_DIR and derives the master key from a new password.

With MOODLOCK_API_URL set the key metadata is also stored on the API; the API
never receives the password or the key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := GetNewPassword("Enter new password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(password)

		p := ui.StartProgress(os.Stderr, "deriving key", showProgress())
		m, err := core.Init(cmd.Context(), cfg, password, core.WithLogger(logger), core.WithProgress(p.Update))
		if err != nil {
			p.Stop("")
			return err
		}
		defer m.Close()
		p.Stop(ui.Success("journal created in " + ui.Highlight(cfg.Dir)))

		stderr(ui.Hint("Save a recovery key in case you forget the password:", "moodlock recovery generate"))
		return printSession(m)
	},
}
