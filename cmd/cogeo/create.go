package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/airbusgeo/cogeo"
	"github.com/airbusgeo/cogeo/gdalio"
	"github.com/airbusgeo/cogeo/remote"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var createCmd = &cobra.Command{
	Use:   "create input.tif output.tif",
	Short: "convert input to a cloud optimized geotiff",
	Long: `Convert input to a cloud optimized geotiff.

Input and output may be local files or gs://bucket/object names. The result
is tiled, carries an internal mask computed from the source masks, a nodata
value or an alpha band, and nearest neighbour overviews.`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

func init() {
	flags := createCmd.Flags()
	flags.IntSlice("bidx", nil, "source bands to convert, e.g. 3,2,1 (default all)")
	flags.String("nodata", "", "compute the mask from this nodata value")
	flags.Int("alpha", 0, "use this source band as the mask")
	flags.Int("overview-level", cogeo.DefaultOverviewLevel, "number of overviews, -1 to compute it from the blocksize")
	flags.Int("blocksize", cogeo.DefaultBlockSize, "internal tile size")
	flags.StringArray("co", nil, "tif creation option KEY=VALUE, an empty value removes the option")
	flags.String("co-string", "", "space separated creation options, e.g. \"COMPRESS=JPEG QUALITY=85\"")
	flags.Int("workers", 1, "number of windows read concurrently")
	flags.Int("handles", 0, "number of gdal handles opened on the source (default workers)")
	flags.String("tmpdir", "", "directory of the intermediate file")
	flags.Bool("raw", false, "write gdal's output directly, without reordering it")
	bindFlags(flags, "bidx", "nodata", "alpha", "overview-level", "blocksize", "co", "co-string",
		"workers", "handles", "tmpdir", "raw")
}

// defaultCreationOptions may be overridden by --co
var defaultCreationOptions = map[string]string{
	"COMPRESS": "DEFLATE",
}

func createProfile() (cogeo.Profile, error) {
	bs := viper.GetInt("blocksize")
	p := cogeo.Profile{
		BlockXSize: bs,
		BlockYSize: bs,
		Options:    map[string]string{},
	}
	for k, v := range defaultCreationOptions {
		p.Options[k] = v
	}
	words, err := shellwords.Parse(viper.GetString("co-string"))
	if err != nil {
		return p, fmt.Errorf("invalid --co-string: %w", err)
	}
	for _, co := range append(viper.GetStringSlice("co"), words...) {
		k, v, ok := strings.Cut(co, "=")
		if !ok || k == "" {
			return p, fmt.Errorf("invalid creation option %q, expecting KEY=VALUE", co)
		}
		k = strings.ToUpper(k)
		if k == "BLOCKXSIZE" || k == "BLOCKYSIZE" {
			return p, fmt.Errorf("BLOCKXSIZE/BLOCKYSIZE creation option not allowed, use --blocksize")
		}
		p.Options[k] = v
	}
	return p, nil
}

func converterOptions(l *zap.Logger) ([]cogeo.Option, error) {
	opts := []cogeo.Option{
		cogeo.OverviewLevel(viper.GetInt("overview-level")),
		cogeo.Workers(viper.GetInt("workers")),
		cogeo.TempDir(viper.GetString("tmpdir")),
		cogeo.Progress(progressLogger(l)),
	}
	if bidx := viper.GetIntSlice("bidx"); len(bidx) > 0 {
		opts = append(opts, cogeo.Bands(bidx...))
	}
	if nd := viper.GetString("nodata"); nd != "" {
		v, err := strconv.ParseFloat(nd, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --nodata %q: %w", nd, err)
		}
		opts = append(opts, cogeo.NoData(v))
	}
	if alpha := viper.GetInt("alpha"); alpha != 0 {
		opts = append(opts, cogeo.Alpha(alpha))
	}
	return opts, nil
}

// progressLogger logs every 10% of transferred windows
func progressLogger(l *zap.Logger) func(done, total int) {
	last := 0
	return func(done, total int) {
		if total == 0 {
			return
		}
		decile := done * 10 / total
		if decile == last {
			return
		}
		last = decile
		l.Info("transfer progress", zap.Int("percent", decile*10), zap.Int("windows", done), zap.Int("total", total))
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	input, output := args[0], args[1]
	l := logger.With(zap.String("input", input), zap.String("output", output))

	profile, err := createProfile()
	if err != nil {
		return err
	}
	opts, err := converterOptions(l)
	if err != nil {
		return err
	}
	c, err := cogeo.NewConverter(opts...)
	if err != nil {
		return err
	}
	h, err := storage(ctx, input, output)
	if err != nil {
		return err
	}
	handles := viper.GetInt("handles")
	if handles <= 0 {
		handles = viper.GetInt("workers")
	}
	drv := gdalio.Driver{Handles: handles, Config: viper.GetStringSlice("gdal-config")}

	if viper.GetBool("raw") {
		if remote.IsRemote(output) {
			return fmt.Errorf("--raw requires a local output")
		}
		err = c.Convert(ctx, drv, input, output, profile)
	} else {
		err = c.Create(ctx, drv, input, output, profile, h.Create)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	l.Info("created")
	return nil
}
