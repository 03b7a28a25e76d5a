package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/airbusgeo/cogeo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

var validateCmd = &cobra.Command{
	Use:   "validate file.tif...",
	Short: "check that files are cloud optimized geotiffs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().Int("parallelism", 8, "number of files validated concurrently")
	bindFlags(validateCmd.Flags(), "parallelism")
}

func printReport(w io.Writer, name string, rep *cogeo.Report) {
	status := "valid"
	if !rep.Valid() {
		status = "invalid"
	}
	fmt.Fprintf(w, "%s: %s\n", name, status)
	fmt.Fprintf(w, "  size: %dx%d, %d bands, tiles %dx%d", rep.Width, rep.Height, rep.Bands, rep.TileWidth, rep.TileHeight)
	if rep.BigTIFF {
		fmt.Fprintf(w, ", bigtiff")
	}
	fmt.Fprintln(w)
	if len(rep.Overviews) > 0 {
		ovrs := make([]string, len(rep.Overviews))
		for i, l := range rep.Overviews {
			ovrs[i] = fmt.Sprintf("%d (%dx%d)", l.Factor, l.Width, l.Height)
		}
		fmt.Fprintf(w, "  overviews: %s\n", strings.Join(ovrs, ", "))
	}
	fmt.Fprintf(w, "  mask: %v\n", rep.HasMask)
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, e := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := storage(ctx, args...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var mu sync.Mutex
	invalid := 0

	pool := gobs.NewPool(viper.GetInt("parallelism"))
	batch := pool.Batch()
	for _, name := range args {
		name := name
		batch.Submit(func() error {
			r, err := h.Reader(name)
			if err != nil {
				return err
			}
			defer r.Close()
			rep, err := cogeo.Validate(r)
			if err != nil {
				return fmt.Errorf("validate %s: %w", name, err)
			}
			mu.Lock()
			defer mu.Unlock()
			printReport(out, name, rep)
			if !rep.Valid() {
				invalid++
			}
			logger.Debug("validated", zap.String("file", name), zap.Bool("valid", rep.Valid()))
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d/%d files are not valid cogs", invalid, len(args))
	}
	return nil
}
