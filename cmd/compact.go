package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/ui"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim unused space in the journal file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.New(cmd.Context(), cfg, core.WithLogger(logger))
		if err != nil {
			return err
		}
		defer m.Close()

		before := fileSize(cfg.DatabasePath())
		if err := m.Compact(); err != nil {
			return err
		}
		after := fileSize(cfg.DatabasePath())
		stderr(ui.Success(fmt.Sprintf("compacted %s (%d -> %d bytes)", cfg.DatabasePath(), before, after)))
		return nil
	},
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
