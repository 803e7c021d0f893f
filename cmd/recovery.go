package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/ui"
)

var (
	recoveryYes bool
	recoveryQR  bool
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Manage the recovery key",
	Long: `A recovery key unlocks the journal when the password is forgotten.
It is shown once and never stored in readable form.`,
}

var recoveryGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a recovery key",
	Long: `Creates a recovery key and shows it once. It is saved only after you confirm
that you wrote it down; a new key replaces the previous one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := openJournal(ctx)
		if err != nil {
			return err
		}
		defer m.Close()

		rec, err := m.GenerateRecovery(ctx)
		if err != nil {
			return err
		}

		fmt.Println()
		fmt.Println("Your recovery key:")
		fmt.Println()
		fmt.Println("    " + ui.Highlight(rec.Secret))
		fmt.Println()
		if recoveryQR {
			qr, err := ui.QRCode(rec.Secret)
			if err != nil {
				m.DiscardRecovery()
				return err
			}
			fmt.Print(qr)
			fmt.Println()
		}
		fmt.Println("Write it down and keep it somewhere safe. It will not be shown again.")

		if !recoveryYes && !confirm("Have you saved the recovery key?") {
			m.DiscardRecovery()
			stderr(ui.Warning("recovery key discarded"))
			return nil
		}
		if err := m.ConfirmRecovery(ctx); err != nil {
			return err
		}
		stderr(ui.Success("recovery key saved"))
		return nil
	},
}

var recoveryUseCmd = &cobra.Command{
	Use:   "use",
	Short: "Unlock with the recovery key and set a new password",
	Long: `Unlocks the journal with the recovery key, then re-encrypts it under a new
password. The recovery key is used up: generate a new one afterwards.

With MOODLOCK_API_URL set the journal is only unlocked; the password cannot be
changed from this client.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := core.New(ctx, cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		secret, err := core.ReadLine("Enter recovery key: ")
		if err != nil {
			return err
		}
		if err := m.Recover(ctx, secret); err != nil {
			return err
		}
		stderr(ui.Success("journal unlocked with the recovery key"))

		if cfg.APIURL != "" {
			return printSession(m)
		}

		password, err := GetNewPassword("Enter new password: ")
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
		stderr(ui.Success(fmt.Sprintf("password changed, %d entries re-encrypted", res.Records)))
		stderr(ui.Hint("Create a new recovery key with", "moodlock recovery generate"))
		return printSession(m)
	},
}

var recoveryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a recovery key is saved",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.New(cmd.Context(), cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		has, err := m.HasRecoveryKey()
		if err != nil {
			return err
		}
		if has {
			fmt.Println(ui.Success("recovery key saved"))
		} else {
			fmt.Println(ui.Warning("no recovery key"))
			fmt.Println(ui.Hint("Create one with", "moodlock recovery generate"))
		}
		return nil
	},
}

func init() {
	recoveryGenerateCmd.Flags().BoolVarP(&recoveryYes, "yes", "y", false, "save without asking for confirmation")
	recoveryGenerateCmd.Flags().BoolVar(&recoveryQR, "qr", false, "also show the recovery key as a QR code")

	recoveryCmd.AddCommand(recoveryGenerateCmd)
	recoveryCmd.AddCommand(recoveryUseCmd)
	recoveryCmd.AddCommand(recoveryStatusCmd)
}

func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	answer, err := core.ReadLine("")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
