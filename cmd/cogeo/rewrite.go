package main

import (
	"fmt"

	"github.com/airbusgeo/cogeo"
	"github.com/google/tiff"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite file.tif [overview.tif...]",
	Short: "reorder a tiled tiff and its external overviews into a cog",
	Long: `Reorder a tiled tiff, and optionally separate files holding its overviews,
into a single cloud optimized geotiff. Tiles are copied as is, without being
decompressed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().String("output", "out.tif", "destination file")
	bindFlags(rewriteCmd.Flags(), "output")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	output := viper.GetString("output")
	h, err := storage(ctx, append([]string{output}, args...)...)
	if err != nil {
		return err
	}
	readers := make([]tiff.ReadAtReadSeeker, len(args))
	for i, input := range args {
		r, err := h.Reader(input)
		if err != nil {
			return fmt.Errorf("open %s: %w", input, err)
		}
		defer r.Close()
		readers[i] = r
	}
	out, err := h.Create(ctx, output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	if err = cogeo.Rewrite(out, readers...); err != nil {
		if a, ok := out.(interface{ Abort() error }); ok {
			_ = a.Abort()
		} else {
			_ = out.Close()
		}
		return fmt.Errorf("cog write: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", output, err)
	}
	logger.Info("rewritten", zap.String("output", output), zap.Strings("inputs", args))
	return nil
}
