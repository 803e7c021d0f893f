package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Unlock the journal for this shell",
	Long: `Derives the key from your password and keeps it in a session.

The session token is printed as a shell export line; evaluate it to stay
unlocked until the session expires:

  eval "$(moodlock login)"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := core.New(ctx, cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		password, err := GetPassword("Enter password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(password)

		var res *core.LoginResult
		err = withProgress(m, "deriving key", func() error {
			res, err = m.Login(ctx, password)
			return err
		})
		if err != nil {
			return err
		}

		stderr(ui.Success("journal unlocked"))
		if res.Stale {
			stderr(ui.Warning(fmt.Sprintf("your key uses %d iterations, %d are configured", res.Iterations, cfg.KDFIterations)))
			stderr(ui.Hint("Strengthen it with", "moodlock rotate"))
		}
		return printSession(m)
	},
}
