package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/ui"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list [resource]",
	Aliases: []string{"ls"},
	Short:   "Decrypt and list journal entries",
	Long: `Without a resource lists the resources and their entry counts.

With a resource decrypts every entry. Entries that cannot be decrypted are
reported and skipped; entries stored before encryption are marked as plain.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		if len(args) == 0 {
			counts, err := m.Resources()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%d\n", name, counts[name])
			}
			return nil
		}

		res, err := m.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if listJSON {
			out := make(map[string]json.RawMessage, len(res.Items))
			for _, item := range res.Items {
				out[item.ID] = item.Data
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
		} else {
			for _, item := range res.Items {
				marker := ""
				if item.Legacy {
					marker = " " + ui.Highlight("(plain)")
				}
				fmt.Printf("%s%s\t%s\n", item.ID, marker, item.Data)
			}
		}

		for _, f := range res.Failures {
			stderr(ui.Failure(fmt.Sprintf("%s: %v", f.ID, f.Err)))
		}
		if len(res.Failures) > 0 {
			stderr(ui.Warning(fmt.Sprintf("%d of %d entries could not be decrypted", len(res.Failures), len(res.Failures)+len(res.Items))))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print entries as one JSON object keyed by id")
}
