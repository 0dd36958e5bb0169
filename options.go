package countrydb

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/ingest"
	"github.com/hupe1980/countrydb/internal/fs"
	"github.com/hupe1980/countrydb/resource"
	"github.com/hupe1980/countrydb/table"
)

// Defaults.
const (
	DefaultWorkers    = 4
	DefaultCacheBytes = 8 << 20
)

// FileSystem is the file system used to publish tables. Wrap
// DefaultFileSystem to observe or fault-inject the publish steps.
type FileSystem = fs.FileSystem

// File is a file opened through a FileSystem.
type File = fs.File

// DefaultFileSystem is the local operating system file system.
var DefaultFileSystem FileSystem = fs.Default

type options struct {
	codec            codec.Codec
	paths            ingest.KeyPaths
	strict           bool
	workers          int
	queueSize        int
	blockSize        int
	compression      table.Compression
	cacheBytes       int64
	verifyChecksums  bool
	resources        resource.Config
	source           ingest.Source
	fileSystem       FileSystem
	metricsCollector MetricsCollector
	logger           *Logger
	tracerProvider   trace.TracerProvider
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec for newly built tables. Existing tables
// are always read with the codec recorded in their metadata.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithKeyPaths configures the JSON pointers for the name key, the code key
// and the border list.
func WithKeyPaths(p ingest.KeyPaths) Option {
	return func(o *options) {
		o.paths = p
	}
}

// WithStrictIngest makes the first record that fails to serialize abort
// the ingest with an *EncodeError. By default such records are dropped
// and counted.
func WithStrictIngest(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithWorkers sets the number of query workers, each owning one table
// handle.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithQueueSize sets the capacity of the shared query queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithBlockSize sets the target uncompressed block size of new tables.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithCompression sets the block compression of new tables.
func WithCompression(c table.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCacheBytes sets the capacity of the block cache shared by all
// handles. Zero disables caching.
func WithCacheBytes(n int64) Option {
	return func(o *options) {
		o.cacheBytes = n
	}
}

// WithVerifyChecksums verifies every block checksum when a table is opened.
func WithVerifyChecksums(enabled bool) Option {
	return func(o *options) {
		o.verifyChecksums = enabled
	}
}

// WithResourceLimits configures memory, query admission and ingest I/O limits.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithSource makes Open ingest src when the directory holds no valid table.
func WithSource(src ingest.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithFileSystem sets the file system used to publish tables.
func WithFileSystem(fsys FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = DefaultFileSystem
		}
		o.fileSystem = fsys
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &countrydb.BasicMetricsCollector{}
//	db, _ := countrydb.Open(ctx, dir, countrydb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Lookups: %d, hits: %d\n", stats.LookupCount, stats.LookupHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := countrydb.NewJSONLogger(slog.LevelInfo)
//	db, _ := countrydb.Open(ctx, dir, countrydb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		paths:            ingest.DefaultKeyPaths,
		workers:          DefaultWorkers,
		blockSize:        table.DefaultBlockSize,
		compression:      table.CompressionZSTD,
		cacheBytes:       DefaultCacheBytes,
		fileSystem:       fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	force bool
}

// WithForceRebuild builds a new table generation even if the directory
// already holds a valid table.
func WithForceRebuild() IngestOption {
	return func(o *ingestOptions) {
		o.force = true
	}
}
