package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hupe1980/countrydb"
	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/resource"
	"github.com/hupe1980/countrydb/table"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	dir        string
	workers    int
	logLevel   string
	format     string // "json" | "text"
	trace      bool

	cfg cliConfig
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "countrydb",
		Short:         "Build and query a country lookup table",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("dir") {
				cfg.Dir = opts.dir
			}
			if flags.Changed("workers") {
				cfg.Workers = opts.workers
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			opts.cfg = cfg
			return cfg.validate()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	pf.StringVarP(&opts.dir, "dir", "d", "./data", "data directory")
	pf.IntVar(&opts.workers, "workers", 4, "query workers")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	pf.StringVar(&opts.format, "format", "text", "output format (json|text)")
	pf.BoolVar(&opts.trace, "trace", false, "print trace spans to stderr")

	cmd.AddCommand(
		newIngestCommand(opts),
		newGetCommand(opts),
		newBordersCommand(opts),
		newScanCommand(opts),
		newStatsCommand(opts),
	)
	return cmd
}

// openDB opens the configured directory. The returned cleanup closes the
// DB and flushes the trace exporter.
func (o *rootOptions) openDB(ctx context.Context, cmd *cobra.Command, extra ...countrydb.Option) (*countrydb.DB, func(), error) {
	cfg := o.cfg
	c, _ := codec.ByName(cfg.Codec)
	comp, _ := table.ParseCompression(cfg.Compression)
	level, _ := parseLevel(cfg.LogLevel)

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), hopts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), hopts)
	}

	dbOpts := []countrydb.Option{
		countrydb.WithCodec(c),
		countrydb.WithCompression(comp),
		countrydb.WithWorkers(cfg.Workers),
		countrydb.WithQueueSize(cfg.QueueSize),
		countrydb.WithBlockSize(cfg.BlockSize),
		countrydb.WithCacheBytes(cfg.CacheBytes),
		countrydb.WithStrictIngest(cfg.Strict),
		countrydb.WithLogger(countrydb.NewLogger(handler)),
		countrydb.WithResourceLimits(resource.Config{
			MemoryLimitBytes:   cfg.Limits.MemoryBytes,
			MaxInFlightQueries: cfg.Limits.MaxInFlightQueries,
			QueriesPerSecond:   cfg.Limits.QueriesPerSecond,
			IOLimitBytesPerSec: cfg.Limits.IOBytesPerSec,
		}),
	}

	shutdown := func() {}
	if o.trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		dbOpts = append(dbOpts, countrydb.WithTracerProvider(tp))
		shutdown = func() { _ = tp.Shutdown(context.Background()) }
	}

	db, err := countrydb.Open(ctx, cfg.Dir, append(dbOpts, extra...)...)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return db, func() {
		_ = db.Close()
		shutdown()
	}, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
