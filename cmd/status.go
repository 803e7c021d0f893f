package cmd

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/moodlock/internal/core"
	"github.com/illarion/moodlock/internal/git"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the journal state",
	Long:  `Shows whether the journal is unlocked, its key settings and entry counts. No password is needed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := core.New(ctx, cfg, core.WithLogger(logger))
		if errors.Is(err, core.ErrNotInitialized) {
			fmt.Println("No journal found in " + cfg.Dir)
			fmt.Println(ui.Hint("Create one with", "moodlock init"))
			return nil
		}
		if err != nil {
			return err
		}
		defer m.Close()

		if cfg.SessionToken != "" {
			if err := m.Restore(ctx); err != nil && !errors.Is(err, core.ErrNotLoggedIn) {
				return err
			}
		}

		info, err := m.Info()
		if err != nil {
			return err
		}

		fmt.Printf("Journal:   %s\n", cfg.DatabasePath())
		fmt.Printf("Account:   %s\n", info.AccountID)
		if info.State == lifecycle.Available {
			fmt.Println("Key:       " + ui.Success("unlocked"))
		} else {
			fmt.Println("Key:       locked")
		}

		if !info.Encrypted {
			fmt.Println(ui.Warning("encryption is not set up"))
		} else {
			fmt.Printf("KDF:       PBKDF2-SHA256, %d iterations\n", info.Iterations)
			if info.Stale {
				fmt.Println(ui.Hint(fmt.Sprintf("%d iterations are configured; strengthen the key with", cfg.KDFIterations), "moodlock rotate"))
			}
			if info.HasRecoveryKey {
				fmt.Println("Recovery:  " + ui.Success("saved"))
			} else {
				fmt.Println("Recovery:  " + ui.Warning("none"))
			}
		}

		fmt.Printf("Session:   %s\n", info.SessionStore)
		if info.APIURL != "" {
			fmt.Printf("API:       %s\n", info.APIURL)
		}
		fmt.Printf("Modified:  %s\n", info.Modified.Format(time.RFC3339))

		fmt.Println("\nEntries:")
		if len(info.Resources) == 0 {
			fmt.Println("  (none)")
		}
		names := make([]string, 0, len(info.Resources))
		for name := range info.Resources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %d\n", name, info.Resources[name])
		}

		fmt.Print(git.FormatExposure(info.Git))
		return nil
	},
}
