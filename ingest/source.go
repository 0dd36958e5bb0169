package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/countrydb/blobstore"
	"github.com/hupe1980/countrydb/resource"
)

// Source yields a batch for one ingest run.
type Source interface {
	// Open returns a reader over the batch. The caller closes it.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name describes the source in logs and table metadata.
	Name() string
}

type fileSource struct{ path string }

// FileSource reads the batch from a local file.
func FileSource(path string) Source { return fileSource{path: path} }

func (s fileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.path)
}

func (s fileSource) Name() string { return "file:" + s.path }

type readerSource struct {
	name string
	r    io.Reader
}

// ReaderSource serves a batch from r. It can be opened once.
func ReaderSource(name string, r io.Reader) Source { return readerSource{name: name, r: r} }

func (s readerSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(s.r), nil
}

func (s readerSource) Name() string { return s.name }

// BytesSource serves an in-memory batch. It can be opened any number of times.
func BytesSource(name string, data []byte) Source { return bytesSource{name: name, data: data} }

type bytesSource struct {
	name string
	data []byte
}

func (s bytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s bytesSource) Name() string { return s.name }

type blobSource struct {
	store blobstore.BlobStore
	name  string
}

// BlobSource reads the batch from a single blob.
func BlobSource(store blobstore.BlobStore, name string) Source {
	return blobSource{store: store, name: name}
}

func (s blobSource) Open(ctx context.Context) (io.ReadCloser, error) {
	b, err := s.store.Open(ctx, s.name)
	if err != nil {
		return nil, err
	}
	return blobReader{SectionReader: io.NewSectionReader(b, 0, b.Size()), c: b}, nil
}

func (s blobSource) Name() string { return "blob:" + s.name }

type blobReader struct {
	*io.SectionReader
	c io.Closer
}

func (r blobReader) Close() error { return r.c.Close() }

// DefaultFetchConcurrency bounds parallel downloads of ConcatSource.
const DefaultFetchConcurrency = 8

type concatSource struct {
	store       blobstore.BlobStore
	prefix      string
	concurrency int
}

// ConcatSource reads every blob under prefix, in lexical order, as one
// batch. Each blob must hold a JSON array. Blobs are fetched concurrently.
func ConcatSource(store blobstore.BlobStore, prefix string) Source {
	return concatSource{store: store, prefix: prefix, concurrency: DefaultFetchConcurrency}
}

func (s concatSource) Open(ctx context.Context) (io.ReadCloser, error) {
	names, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("ingest: list %q: %w", s.prefix, err)
	}
	// Directory markers from object stores carry no data.
	names = slices.DeleteFunc(names, func(n string) bool { return strings.HasSuffix(n, "/") })
	if len(names) == 0 {
		return nil, fmt.Errorf("ingest: no blobs under %q: %w", s.prefix, blobstore.ErrNotFound)
	}

	parts := make([][]byte, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range names {
		g.Go(func() error {
			data, err := blobstore.ReadAll(gctx, s.store, name)
			if err != nil {
				return fmt.Errorf("ingest: fetch %q: %w", name, err)
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, 0, 2*len(parts))
	for _, p := range parts {
		// Separate documents so adjacent arrays never run together.
		readers = append(readers, bytes.NewReader(p), strings.NewReader("\n"))
	}
	return io.NopCloser(io.MultiReader(readers...)), nil
}

func (s concatSource) Name() string { return "concat:" + s.prefix }

type throttledSource struct {
	Source
	rc *resource.Controller
}

// Throttle limits the read rate of src with rc's I/O limit.
func Throttle(src Source, rc *resource.Controller) Source {
	if rc == nil {
		return src
	}
	return throttledSource{Source: src, rc: rc}
}

func (s throttledSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := s.Source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{resource.NewRateLimitedReader(ctx, rc, s.rc), rc}, nil
}
