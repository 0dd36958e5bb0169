package table

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/hupe1980/countrydb/internal/fs"
	"github.com/hupe1980/countrydb/resource"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	FileSystem  fs.FileSystem
	Resources   *resource.Controller
	Logger      *slog.Logger
	BlockSize   int
	Compression Compression
}

// BuilderOption configures a Builder.
type BuilderOption func(*BuilderOptions)

// WithFileSystem sets the file system used to publish the table.
func WithFileSystem(fsys fs.FileSystem) BuilderOption {
	return func(o *BuilderOptions) { o.FileSystem = fsys }
}

// WithResourceController charges buffered pairs against rc's memory limit.
func WithResourceController(rc *resource.Controller) BuilderOption {
	return func(o *BuilderOptions) { o.Resources = rc }
}

// WithBuilderLogger sets the builder logger.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) { o.Logger = l }
}

// WithBlockSize sets the target uncompressed data block size.
func WithBlockSize(n int) BuilderOption {
	return func(o *BuilderOptions) { o.BlockSize = n }
}

// WithCompression sets the data block compression.
func WithCompression(c Compression) BuilderOption {
	return func(o *BuilderOptions) { o.Compression = c }
}

// BuildResult summarizes a published table.
type BuildResult struct {
	Path       string
	Entries    int64
	Duplicates int64
	Blocks     int
	Bytes      int64
}

type pair struct {
	key, value []byte
}

// Builder accumulates pairs and publishes them as a sorted table.
//
// Pairs may arrive in any order. On duplicate keys the earliest added pair
// wins and later ones are discarded and counted. A Builder is single-use
// and not safe for concurrent use.
type Builder struct {
	dir      string
	opts     BuilderOptions
	pairs    []pair
	buffered int64
	done     bool
}

// NewBuilder creates a Builder that publishes into dir.
func NewBuilder(dir string, optFns ...BuilderOption) *Builder {
	opts := BuilderOptions{
		FileSystem: fs.Default,
		BlockSize:  DefaultBlockSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{dir: dir, opts: opts}
}

// Add buffers a copy of the pair.
func (b *Builder) Add(key, value []byte) error {
	if b.done {
		return ErrFinished
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	n := int64(len(key) + len(value))
	if err := b.opts.Resources.AcquireMemory(n); err != nil {
		return fmt.Errorf("table: buffer pair: %w", err)
	}
	b.buffered += n
	b.pairs = append(b.pairs, pair{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

// Len returns the number of buffered pairs.
func (b *Builder) Len() int { return len(b.pairs) }

// Abort discards all buffered pairs.
func (b *Builder) Abort() {
	b.release()
	b.done = true
}

func (b *Builder) release() {
	b.opts.Resources.ReleaseMemory(b.buffered)
	b.buffered = 0
	b.pairs = nil
}

// Finish sorts and merges the buffered pairs and atomically publishes the
// table under dir/FileName, replacing any previous table. meta is
// completed with the entry and duplicate counts and stored both in the
// meta section and under MetaKey.
//
// On failure no partial table is visible and a previous table is untouched.
func (b *Builder) Finish(ctx context.Context, meta Meta) (res BuildResult, err error) {
	if b.done {
		return BuildResult{}, ErrFinished
	}
	b.done = true
	defer b.release()

	fsys := b.opts.FileSystem
	if err := fsys.MkdirAll(b.dir, 0o755); err != nil {
		return BuildResult{}, err
	}
	unlock, err := lockExclusive(b.dir)
	if err != nil {
		return BuildResult{}, err
	}
	defer func() { _ = unlock() }()

	// Stable sort keeps emission order among equal keys: the first is kept.
	slices.SortStableFunc(b.pairs, func(x, y pair) int { return bytes.Compare(x.key, y.key) })
	unique := b.pairs[:0]
	var duplicates int64
	for _, p := range b.pairs {
		if len(unique) > 0 && bytes.Equal(unique[len(unique)-1].key, p.key) {
			duplicates++
			continue
		}
		unique = append(unique, p)
	}

	meta.Version = FormatVersion
	meta.Compression = b.opts.Compression.String()
	meta.BlockSize = b.opts.BlockSize
	meta.Entries = int64(len(unique))
	meta.Duplicates = duplicates
	sentinel, err := meta.MarshalMsg(nil)
	if err != nil {
		return BuildResult{}, err
	}

	final := filepath.Join(b.dir, FileName)
	tmp := final + tmpSuffix

	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return BuildResult{}, err
	}
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				_ = f.Close()
			}
			_ = fsys.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 256*1024)
	w := NewWriter(bw, WriterOptions{
		BlockSize:    b.opts.BlockSize,
		Compression:  b.opts.Compression,
		ExpectedKeys: len(unique) + 1,
	})
	if err = w.Add(MetaKey, sentinel); err != nil {
		return BuildResult{}, err
	}
	for i, p := range unique {
		if i%1024 == 0 {
			if err = ctx.Err(); err != nil {
				return BuildResult{}, err
			}
		}
		if err = w.Add(p.key, p.value); err != nil {
			return BuildResult{}, err
		}
	}
	size, err := w.Finish(meta)
	if err != nil {
		return BuildResult{}, err
	}
	if err = bw.Flush(); err != nil {
		return BuildResult{}, err
	}
	if err = f.Sync(); err != nil {
		return BuildResult{}, err
	}
	closed = true
	if err = f.Close(); err != nil {
		return BuildResult{}, err
	}
	if err = fsys.Rename(tmp, final); err != nil {
		return BuildResult{}, err
	}
	if err = fsys.SyncDir(b.dir); err != nil {
		// The rename happened; the table is visible but may not survive a crash.
		return BuildResult{}, fmt.Errorf("table: sync dir: %w", err)
	}

	b.opts.Logger.InfoContext(ctx, "table published",
		"path", final,
		"entries", len(unique),
		"duplicates", duplicates,
		"blocks", w.Blocks(),
		"bytes", size,
	)
	return BuildResult{
		Path:       final,
		Entries:    int64(len(unique)),
		Duplicates: duplicates,
		Blocks:     w.Blocks(),
		Bytes:      size,
	}, nil
}
