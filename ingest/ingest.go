package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	gojson "github.com/goccy/go-json"

	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/record"
)

// ErrMalformedBatch is returned when the input is not a JSON array.
var ErrMalformedBatch = errors.New("ingest: malformed batch")

// EncodeError reports a record that could not be serialized.
type EncodeError struct {
	Ordinal int // zero-based position in the batch
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ingest: record %d: %v", e.Ordinal, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// errNotObject marks batch elements that are not JSON objects.
var errNotObject = errors.New("element is not an object")

// KeyPaths are the JSON pointers a record's keys and neighbors are read from.
type KeyPaths struct {
	Name    string
	Code    string
	Borders string
}

// DefaultKeyPaths reads /name/common, /cca3 and /borders.
var DefaultKeyPaths = KeyPaths{
	Name:    record.NamePath,
	Code:    record.CodePath,
	Borders: record.BordersPath,
}

// Validate checks that every path is a JSON pointer.
func (p KeyPaths) Validate() error {
	for _, path := range []string{p.Name, p.Code, p.Borders} {
		if err := record.ValidatePath(path); err != nil {
			return err
		}
	}
	return nil
}

// EmitFunc receives derived pairs. The slices are not retained by the
// Ingestor after the call returns, but value is shared by both keys of a
// record. A non-nil error aborts the run.
type EmitFunc func(key, value []byte) error

// Stats summarizes one run.
type Stats struct {
	Records        int64 // batch elements seen
	Emitted        int64 // pairs emitted
	Skipped        int64 // records without any key
	Dropped        int64 // records that failed to serialize
	SkippedRecords *roaring.Bitmap
	DroppedRecords *roaring.Bitmap
}

func newStats() Stats {
	return Stats{
		SkippedRecords: roaring.New(),
		DroppedRecords: roaring.New(),
	}
}

// Options configures an Ingestor.
type Options struct {
	Paths  KeyPaths
	Codec  codec.Codec
	Strict bool
	Logger *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Options)

// WithKeyPaths overrides the key and neighbor field paths.
func WithKeyPaths(p KeyPaths) Option {
	return func(o *Options) { o.Paths = p }
}

// WithCodec sets the value codec.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithStrict makes the first per-record failure abort the run.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Ingestor derives pairs from batches. It is stateless between runs and
// safe for concurrent use.
type Ingestor struct {
	opts Options
}

// New creates an Ingestor.
func New(optFns ...Option) *Ingestor {
	opts := Options{
		Paths: DefaultKeyPaths,
		Codec: codec.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Ingestor{opts: opts}
}

// Codec returns the value codec.
func (in *Ingestor) Codec() codec.Codec { return in.opts.Codec }

// Paths returns the configured field paths.
func (in *Ingestor) Paths() KeyPaths { return in.opts.Paths }

// Run reads the batch from r and emits pairs in batch order.
func (in *Ingestor) Run(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error) {
	stats := newStats()
	if err := in.opts.Paths.Validate(); err != nil {
		return stats, err
	}

	dec := gojson.NewDecoder(r)
	dec.UseNumber()

	arrays := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
		if d, ok := tok.(gojson.Delim); !ok || d != '[' {
			return stats, fmt.Errorf("%w: expected array, got %v", ErrMalformedBatch, tok)
		}
		arrays++

		for dec.More() {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			var doc any
			if err := dec.Decode(&doc); err != nil {
				return stats, fmt.Errorf("%w: record %d: %v", ErrMalformedBatch, stats.Records, err)
			}
			ordinal := int(stats.Records)
			stats.Records++
			if err := in.process(ctx, ordinal, doc, emit, &stats); err != nil {
				return stats, err
			}
		}
		if _, err := dec.Token(); err != nil {
			return stats, fmt.Errorf("%w: unterminated array: %v", ErrMalformedBatch, err)
		}
	}
	if arrays == 0 {
		return stats, fmt.Errorf("%w: empty input", ErrMalformedBatch)
	}

	in.opts.Logger.DebugContext(ctx, "batch ingested",
		"records", stats.Records,
		"emitted", stats.Emitted,
		"skipped", stats.Skipped,
		"dropped", stats.Dropped,
	)
	return stats, nil
}

func (in *Ingestor) process(ctx context.Context, ordinal int, doc any, emit EmitFunc, stats *Stats) error {
	fields, ok := codec.Normalize(doc).(map[string]any)
	if !ok {
		return in.drop(ctx, ordinal, errNotObject, stats)
	}
	rec := record.New(fields)

	keys := make([][]byte, 0, 2)
	for _, path := range []string{in.opts.Paths.Name, in.opts.Paths.Code} {
		k := rec.String(path)
		if k == "" || k[0] == 0x00 {
			continue
		}
		keys = append(keys, []byte(k))
	}
	if len(keys) == 0 {
		stats.Skipped++
		stats.SkippedRecords.Add(uint32(ordinal))
		return nil
	}

	value, err := rec.Encode(in.opts.Codec)
	if err != nil {
		return in.drop(ctx, ordinal, err, stats)
	}
	for i, k := range keys {
		// A record whose name equals its code yields one pair.
		if i > 0 && bytes.Equal(k, keys[0]) {
			continue
		}
		if err := emit(k, value); err != nil {
			return err
		}
		stats.Emitted++
	}
	return nil
}

func (in *Ingestor) drop(ctx context.Context, ordinal int, cause error, stats *Stats) error {
	encErr := &EncodeError{Ordinal: ordinal, Err: cause}
	if in.opts.Strict {
		return encErr
	}
	stats.Dropped++
	stats.DroppedRecords.Add(uint32(ordinal))
	in.opts.Logger.WarnContext(ctx, "record dropped", "ordinal", ordinal, "error", cause)
	return nil
}
