package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/ui"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Change the password and re-encrypt every entry",
	Long: `Derives a new key from a new password with fresh salt and the configured
iteration count, and re-encrypts every entry in one transaction. Plain entries
are encrypted too. The recovery key stops working and has to be generated again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer m.Close()

		password, err := core.ReadPasswordConfirm("Enter new password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(password)

		var res *core.RotateResult
		err = withProgress(m, "re-encrypting", func() error {
			res, err = m.Rotate(ctx, password)
			return err
		})
		if err != nil {
			return err
		}

		stderr(ui.Success(fmt.Sprintf("key rotated (%d iterations), %d entries re-encrypted", res.Metadata.Iterations, res.Records)))
		if res.Legacy > 0 {
			stderr(ui.Success(fmt.Sprintf("%d plain entries encrypted", res.Legacy)))
		}
		stderr(ui.Warning("the previous recovery key no longer works"))
		stderr(ui.Hint("Create a new one with", "moodlock recovery generate"))
		return printSession(m)
	},
}
