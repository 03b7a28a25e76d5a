// Package remote gives read and write access to gs:// objects and local files
// under a single naming scheme.
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/cogeo"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/google/tiff"
	"google.golang.org/api/option"
)

const gsPrefix = "gs://"

// IsRemote reports whether name designates a gs:// object
func IsRemote(name string) bool {
	return strings.HasPrefix(name, gsPrefix)
}

// Parse splits a gs://bucket/object name
func Parse(name string) (bucket, object string, err error) {
	path, ok := strings.CutPrefix(name, gsPrefix)
	if !ok {
		return "", "", fmt.Errorf("%s: missing %s prefix", name, gsPrefix)
	}
	bucket, object, _ = strings.Cut(path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("%s: expecting %sbucket/object", name, gsPrefix)
	}
	return bucket, object, nil
}

type config struct {
	blockSize       string
	numCachedBlocks int
	client          *storage.Client
	clientOptions   []option.ClientOption
}

// Option configures New
type Option func(c *config)

// BlockSize sets the size of the blocks fetched and cached when reading, e.g. "512k"
func BlockSize(size string) Option {
	return func(c *config) {
		c.blockSize = size
	}
}

// NumCachedBlocks sets the number of blocks kept in memory when reading
func NumCachedBlocks(n int) Option {
	return func(c *config) {
		c.numCachedBlocks = n
	}
}

// Client uses an existing storage client instead of creating one
func Client(cl *storage.Client) Option {
	return func(c *config) {
		c.client = cl
	}
}

// Anonymous creates a storage client that does not authenticate, for public
// buckets.
func Anonymous() Option {
	return func(c *config) {
		c.clientOptions = append(c.clientOptions, option.WithoutAuthentication())
	}
}

// Handler reads and creates gs:// objects and local files
type Handler struct {
	client  *storage.Client
	adapter *osio.Adapter
}

// New creates a Handler backed by a google storage client.
func New(ctx context.Context, opts ...Option) (*Handler, error) {
	c := config{blockSize: "512k", numCachedBlocks: 1000}
	for _, o := range opts {
		o(&c)
	}
	var err error
	stcl := c.client
	if stcl == nil {
		if stcl, err = storage.NewClient(ctx, c.clientOptions...); err != nil {
			return nil, fmt.Errorf("storage.newclient: %w", err)
		}
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return nil, fmt.Errorf("gcs.handle: %w", err)
	}
	adapter, err := osio.NewAdapter(gcsh, osio.BlockSize(c.blockSize), osio.NumCachedBlocks(c.numCachedBlocks))
	if err != nil {
		return nil, fmt.Errorf("osio.new: %w", err)
	}
	return &Handler{client: stcl, adapter: adapter}, nil
}

// Adapter returns the block cache used for gs:// reads, to be shared with GDAL.
func (h *Handler) Adapter() *osio.Adapter {
	return h.adapter
}

// ReadAtReadSeekCloser is a tiff.ReadAtReadSeeker that must be closed after use
type ReadAtReadSeekCloser interface {
	tiff.ReadAtReadSeeker
	io.Closer
}

type nopCloser struct {
	tiff.ReadAtReadSeeker
}

func (nopCloser) Close() error { return nil }

// Reader opens name for reading
func (h *Handler) Reader(name string) (ReadAtReadSeekCloser, error) {
	if !IsRemote(name) {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	if h.adapter == nil {
		return nil, fmt.Errorf("open %s: no gcs access configured", name)
	}
	r, err := h.adapter.Reader(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return nopCloser{r}, nil
}

// objectWriter discards the upload if it is aborted before being closed
type objectWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w objectWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

func (w objectWriter) Abort() error {
	w.cancel()
	_ = w.Writer.Close()
	return nil
}

// Create opens name for writing. A gs:// object only becomes visible once the
// returned writer is closed successfully. Create has the signature of a
// cogeo.Sink.
func (h *Handler) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if !IsRemote(name) {
		return cogeo.FileSink(ctx, name)
	}
	if h.client == nil {
		return nil, fmt.Errorf("create %s: no gcs access configured", name)
	}
	bucket, object, err := Parse(name)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	return objectWriter{
		Writer: h.client.Bucket(bucket).Object(object).NewWriter(wctx),
		cancel: cancel,
	}, nil
}
