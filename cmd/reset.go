package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/keyframer/internal/describe"
	"github.com/andresmejia3/keyframer/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Keyframes, Descriptions)",
	Long: "Clears all data. By default, it resets everything. Use flags to clear specific components. " +
		"The database URL comes from the config file or POSTGRES_* environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				db, err := openStore(cmd.Context())
				if err == nil {
					err = db.Reset(cmd.Context())
				}
				if err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete all keyframes and description outputs?") {
				fmt.Println("🗑️  Clearing Output Files (Keyframes, Manifests, Descriptions)...")
				for _, p := range outputPaths() {
					removePath(p)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated files (keyframes, manifests, descriptions)")
	rootCmd.AddCommand(resetCmd)
}

// outputPaths lists what extract and describe write, as currently configured.
func outputPaths() []string {
	paths := []string{cfg.Extract.Output, cfg.Extract.Manifest, cfg.Describe.Output}
	if cfg.Describe.Output == "" {
		paths[2] = describe.DefaultOutputDir
	}
	return paths
}

func confirm(r io.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	res, _ := br.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removePath(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
