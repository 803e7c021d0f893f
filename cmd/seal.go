package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/security"
	"github.com/illarion/moodlock/internal/ui"
)

var (
	sealData string
	sealFile string
)

var sealCmd = &cobra.Command{
	Use:   "seal <resource> [id]",
	Short: "Encrypt and store a journal entry",
	Long: `Encrypts a JSON entry and stores it under resource. Without an id a new one is generated.

The entry is read from --data, from --file (relative to the working directory)
or from standard input when --file is "-".`,
	Example: `  moodlock seal moods --data '{"mood_score":7,"note":"good day"}'
  moodlock seal moods 2024-05-01 --file entry.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readEntry()
		if err != nil {
			return err
		}

		m, err := openJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		var id string
		if len(args) == 2 {
			id = args[1]
		}
		id, err = m.Seal(cmd.Context(), args[0], id, data)
		if err != nil {
			return err
		}
		stderr(ui.Success(fmt.Sprintf("sealed %s/%s", args[0], ui.Highlight(id))))
		return nil
	},
}

func init() {
	sealCmd.Flags().StringVar(&sealData, "data", "", "entry as JSON")
	sealCmd.Flags().StringVarP(&sealFile, "file", "f", "", "read the entry from a file, - for stdin")
	sealCmd.MarkFlagsMutuallyExclusive("data", "file")
	sealCmd.MarkFlagsOneRequired("data", "file")
}

func readEntry() (json.RawMessage, error) {
	var data []byte
	switch {
	case sealData != "":
		data = []byte(sealData)
	case sealFile == "-":
		var err error
		if data, err = io.ReadAll(io.LimitReader(os.Stdin, security.MaxFileSize)); err != nil {
			return nil, err
		}
	default:
		sb, err := security.New(".")
		if err != nil {
			return nil, err
		}
		defer sb.Close()
		if data, err = sb.ReadFile(sealFile); err != nil {
			return nil, err
		}
	}

	if !json.Valid(data) {
		return nil, errors.New("entry is not valid JSON")
	}
	return data, nil
}
