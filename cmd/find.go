package cmd

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/keyframer/internal/config"
	"github.com/andresmejia3/keyframer/internal/telemetry"
	"github.com/andresmejia3/keyframer/internal/utils"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Search the indexed keyframes for images that look like the given one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0], cfg.Find)
	},
}

func init() {
	f := findCmd.Flags()
	f.IntP("limit", "n", 10, "Maximum number of matches")
	f.Float64P("max-distance", "t", 0.5, "Cosine distance below which a keyframe matches (0 = identical)")
	addEncoderFlags(f)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts config.FindConfig) error {
	if err := opts.Validate(); err != nil {
		utils.ShowError("Invalid find options", err, nil)
		return err
	}
	ctx, span := telemetry.Tracer().Start(ctx, "find")
	defer span.End()

	f, err := os.Open(imagePath)
	if err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting encoder...")
	enc, err := newEncoder(ctx, opts.EncoderConfig, 1)
	if err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}
	defer enc.Close()

	vecs, err := enc.Embed(ctx, []image.Image{img})
	if err != nil {
		utils.ShowError("Failed to embed image", err, nil)
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	matches, err := db.FindSimilarKeyframes(ctx, vecs[0], opts.Limit, opts.MaxDistance)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}
	if len(matches) == 0 {
		fmt.Println("❌ No similar keyframes found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "VIDEO\tTIMESTAMP\tFRAME\tDISTANCE\tKEYFRAME")
	fmt.Fprintln(w, "-----\t---------\t-----\t--------\t--------")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%s\n",
			filepath.Base(m.VideoPath), m.Timestamp, m.Index, m.Distance, m.Path)
	}
	w.Flush()
	return nil
}
