package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/cogeo"
	"github.com/airbusgeo/cogeo/gdalio"
	"github.com/airbusgeo/cogeo/remote"
	"github.com/airbusgeo/godal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var startTime time.Time
var logger = zap.NewNop()
var handler *remote.Handler

var rootCmd = &cobra.Command{
	Use:   "cogeo",
	Short: "cloud optimized geotiff creation and validation",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		startTime = time.Now()
		if err := initConfig(); err != nil {
			return err
		}
		var err error
		if logger, err = newLogger(viper.GetBool("verbose")); err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		cmd.SetContext(cogeo.WithLogger(cmd.Context(), logger))
		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		logger.Debug("command done", zap.String("command", cmd.Name()),
			zap.Duration("elapsed", time.Since(startTime)))
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "yaml config file")
	flags.Bool("verbose", false, "verbose output")
	flags.String("blocksize-cache", "512k", "gs cache blocksize")
	flags.Int("numblocks", 1000, "number of gs cached blocks")
	flags.StringArray("gdal-config", nil, "gdal configuration options, e.g. GDAL_CACHEMAX=512")
	bindFlags(flags, "verbose", "blocksize-cache", "numblocks", "gdal-config")

	rootCmd.AddCommand(createCmd, validateCmd, rewriteCmd, workflowCmd)
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads the config file, if any, and the COGEO_ environment
// variables, e.g. COGEO_OVERVIEW_LEVEL=4
func initConfig() error {
	viper.SetEnvPrefix("cogeo")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// storage returns the handler used to access the given names. gs:// access is
// only set up when one of them is remote.
func storage(ctx context.Context, names ...string) (*remote.Handler, error) {
	if handler != nil {
		return handler, nil
	}
	needed := false
	for _, n := range names {
		needed = needed || remote.IsRemote(n)
	}
	if !needed {
		return &remote.Handler{}, nil
	}
	h, err := remote.New(ctx,
		remote.BlockSize(viper.GetString("blocksize-cache")),
		remote.NumCachedBlocks(viper.GetInt("numblocks")))
	if err != nil {
		return nil, err
	}
	if err := gdalio.RegisterVSI("gs://", h.Adapter()); err != nil {
		return nil, err
	}
	handler = h
	return h, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
