package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/keyframer/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed videos and their keyframe counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	videos, err := db.ListVideos(ctx)
	if err != nil {
		utils.ShowError("Failed to list videos", err, nil)
		return err
	}

	if len(videos) == 0 {
		fmt.Println("No videos found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tFPS\tKEYFRAMES\tINDEXED")
	fmt.Fprintln(w, "--\t----\t---\t---------\t-------")

	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\n", shortID(v.ID), v.Path, v.FPS, v.Keyframes, v.IndexedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
