// Package query executes point lookups and one-hop border resolution
// against a table handle.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/record"
)

// Query is a closed set of query shapes: Lookup and Borders.
type Query interface {
	// Target returns the key the query starts from.
	Target() string
	// Kind names the query shape ("lookup" or "borders").
	Kind() string
	sealed()
}

// Lookup decodes the record stored under Key.
type Lookup struct {
	Key string
}

// Target implements Query.
func (q Lookup) Target() string { return q.Key }

// Kind implements Query.
func (Lookup) Kind() string { return "lookup" }
func (Lookup) sealed()      {}

// Borders decodes the record stored under Key together with every
// neighbor from its border list that resolves. Exactly one hop.
type Borders struct {
	Key string
}

// Target implements Query.
func (q Borders) Target() string { return q.Key }

// Kind implements Query.
func (Borders) Kind() string { return "borders" }
func (Borders) sealed()      {}

// Handle is a read view over a table.
type Handle interface {
	Get(key []byte) ([]byte, bool, error)
}

// Result is the outcome of a query. Neighbors is only set for Borders.
type Result struct {
	Record    *record.Record
	Neighbors []*record.Record
	Found     bool
}

// DecodeError reports a stored value that could not be decoded.
// Resolvers absorb it as not found.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("query: decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options configures a Resolver.
type Options struct {
	Codec       codec.Codec
	BordersPath string
	Logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Options)

// WithCodec sets the codec values are decoded with.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithBordersPath sets the JSON pointer of the neighbor list.
func WithBordersPath(path string) Option {
	return func(o *Options) { o.BordersPath = path }
}

// WithLogger sets the logger for decode failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Resolver executes queries. It holds no per-query state and is safe for
// concurrent use with distinct handles.
type Resolver struct {
	opts Options
}

// NewResolver creates a Resolver.
func NewResolver(optFns ...Option) *Resolver {
	opts := Options{
		Codec:       codec.Default,
		BordersPath: record.BordersPath,
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
	return &Resolver{opts: opts}
}

// Codec returns the codec values are decoded with.
func (r *Resolver) Codec() codec.Codec { return r.opts.Codec }

// Execute runs q against h. Errors are storage failures; absence and
// undecodable values yield Found == false.
func (r *Resolver) Execute(ctx context.Context, h Handle, q Query) (Result, error) {
	switch q := q.(type) {
	case Lookup:
		rec, ok, err := r.lookup(ctx, h, q.Key)
		return Result{Record: rec, Found: ok}, err
	case Borders:
		return r.borders(ctx, h, q.Key)
	default:
		return Result{}, fmt.Errorf("query: unknown query type %T", q)
	}
}

func (r *Resolver) lookup(ctx context.Context, h Handle, key string) (*record.Record, bool, error) {
	// Empty and reserved keys never name a record.
	if key == "" || key[0] == 0x00 {
		return nil, false, nil
	}
	data, ok, err := h.Get([]byte(key))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := record.Decode(r.opts.Codec, data)
	if err != nil {
		r.opts.Logger.WarnContext(ctx, "decode failed", "error", &DecodeError{Key: key, Err: err})
		return nil, false, nil
	}
	return rec, true, nil
}

func (r *Resolver) borders(ctx context.Context, h Handle, key string) (Result, error) {
	rec, ok, err := r.lookup(ctx, h, key)
	if err != nil || !ok {
		return Result{}, err
	}
	codes := rec.Strings(r.opts.BordersPath)
	neighbors := make([]*record.Record, 0, len(codes))
	for _, code := range codes {
		n, ok, err := r.lookup(ctx, h, code)
		if err != nil {
			return Result{}, fmt.Errorf("query: resolve neighbor %q of %q: %w", code, key, err)
		}
		if ok {
			neighbors = append(neighbors, n)
		}
	}
	return Result{Record: rec, Neighbors: neighbors, Found: true}, nil
}
