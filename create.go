package cogeo

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Sink opens the final destination of Create
type Sink func(ctx context.Context, name string) (io.WriteCloser, error)

// aborter is implemented by sink writers that can discard what has been
// written to them instead of committing it on Close.
type aborter interface {
	Abort() error
}

type localFile struct {
	*os.File
}

func (f localFile) Abort() error {
	_ = f.File.Close()
	return os.Remove(f.Name())
}

// FileSink creates local files. The file is removed if Create fails after
// having created it.
func FileSink(_ context.Context, name string) (io.WriteCloser, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return localFile{f}, nil
}

// Create converts input into a cloud optimized raster written to the sink.
//
// The conversion is first made into a staging file inside the converter's
// temporary directory, which is then rewritten with Rewrite so that its ifds
// and tiles are laid out for partial remote reads. The staging file is removed
// on every path and the sink is only called once the conversion succeeded.
func (c *Converter) Create(ctx context.Context, drv Driver, input, output string, profile Profile, sink Sink) error {
	logger := Logger(ctx)
	dir := c.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	staging := filepath.Join(dir, "cogeo-"+uuid.Must(uuid.NewRandom()).String()+".tif")
	defer func() {
		if err := os.Remove(staging); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove staging file", zap.String("file", staging), zap.Error(err))
		}
	}()

	if err := c.Convert(ctx, drv, input, staging, profile); err != nil {
		return err
	}

	f, err := os.Open(staging)
	if err != nil {
		return newError(ErrBlockIO, "reopen "+staging, err)
	}
	defer f.Close() //nolint:errcheck

	w, err := sink(ctx, output)
	if err != nil {
		return newError(ErrBlockIO, "create "+output, err)
	}
	if err := Rewrite(w, f); err != nil {
		if a, ok := w.(aborter); ok {
			if aerr := a.Abort(); aerr != nil {
				logger.Warn("abort output", zap.String("output", output), zap.Error(aerr))
			}
		} else {
			_ = w.Close()
		}
		return newError(ErrBlockIO, "rewrite "+output, err)
	}
	if err := w.Close(); err != nil {
		return newError(ErrBlockIO, "close "+output, err)
	}
	logger.Debug("created", zap.String("output", output))
	return nil
}
