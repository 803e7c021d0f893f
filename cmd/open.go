package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/crypto"
	"github.com/illarion/moodlock/internal/security"
	"github.com/illarion/moodlock/internal/ui"
)

var (
	openOut   string
	openForce bool
)

var openCmd = &cobra.Command{
	Use:   "open <resource> <id>",
	Short: "Decrypt and print a journal entry",
	Long: `Decrypts an entry and prints it as JSON, or writes it to --out.

Files written with --out are readable by the owner only and must stay inside
the working directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		var raw json.RawMessage
		if err := m.Open(cmd.Context(), args[0], args[1], &raw); err != nil {
			return err
		}
		defer crypto.ClearBytes(raw)

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			return err
		}
		pretty.WriteByte('\n')

		if openOut == "" {
			fmt.Print(pretty.String())
			return nil
		}

		sb, err := security.New(".")
		if err != nil {
			return err
		}
		defer sb.Close()
		if err := sb.WriteFile(openOut, pretty.Bytes(), openForce); err != nil {
			return err
		}
		stderr(ui.Success("decrypted to " + ui.Highlight(openOut)))
		return nil
	},
}

func init() {
	openCmd.Flags().StringVarP(&openOut, "out", "o", "", "write the entry to a file")
	openCmd.Flags().BoolVar(&openForce, "force", false, "overwrite an existing file")
}
