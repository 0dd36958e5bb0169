package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/countrydb"
	"github.com/hupe1980/countrydb/record"
)

// errNotFound is returned by get and borders for absent keys.
var errNotFound = errors.New("not found")

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		force bool
		file  string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the table from the configured source",
		Long: `Build the table from the configured source, or from --file.

Nothing is built when the directory already holds a valid table unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sc := opts.cfg.Source
			if file != "" {
				sc = sourceConfig{Kind: "file", Path: file}
			}
			src, err := openSource(ctx, sc)
			if err != nil {
				return err
			}
			db, closeDB, err := opts.openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			var iopts []countrydb.IngestOption
			if force {
				iopts = append(iopts, countrydb.WithForceRebuild())
			}
			summary, err := db.Ingest(ctx, src, iopts...)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			out := cmd.OutOrStdout()
			if summary.Skipped {
				fmt.Fprintf(out, "table exists: %d entries from %s\n", summary.Entries, summary.Source)
				return nil
			}
			fmt.Fprintf(out, "built %s: %d records, %d entries, %d duplicates, %d dropped, %d keyless in %s\n",
				summary.Path, summary.Records, summary.Entries, summary.Duplicates,
				summary.DroppedRecords, summary.KeylessRecords, summary.Duration)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even if a valid table exists")
	cmd.Flags().StringVarP(&file, "file", "f", "", "ingest this JSON file instead of the configured source")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name-or-code>",
		Short: "Look up one country",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, closeDB, err := opts.openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			rec, found, err := db.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q: %w", args[0], errNotFound)
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.Code(), rec.Name())
			return nil
		},
	}
}

func newBordersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "borders <name-or-code>",
		Short: "Look up a country with its resolvable neighbors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, closeDB, err := opts.openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			res, found, err := db.ResolveWithBorders(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q: %w", args[0], errNotFound)
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", res.Record.Code(), res.Record.Name())
			for _, n := range res.Neighbors {
				fmt.Fprintf(out, "  %s\t%s\n", n.Code(), n.Name())
			}
			return nil
		},
	}
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List keys in ascending order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, closeDB, err := opts.openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			type entry struct {
				Key    string         `json:"key"`
				Record *record.Record `json:"record"`
			}
			var entries []entry
			out := cmd.OutOrStdout()
			n := 0
			for e, err := range db.Scan(ctx) {
				if err != nil {
					return err
				}
				if !strings.HasPrefix(e.Key, prefix) {
					continue
				}
				if limit > 0 && n >= limit {
					break
				}
				n++
				if opts.format == "json" {
					entries = append(entries, entry{Key: e.Key, Record: e.Record})
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", e.Key, e.Record.Code())
			}
			if opts.format == "json" {
				return writeJSON(out, entries)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n keys (0 = all)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only keys with this prefix")
	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show table and pool statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, closeDB, err := opts.openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			s := db.Stats()
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dir:         %s\n", s.Dir)
			fmt.Fprintf(out, "initialized: %t\n", s.Initialized)
			if !s.Initialized {
				return nil
			}
			fmt.Fprintf(out, "table:       %s\n", s.TableID)
			fmt.Fprintf(out, "source:      %s\n", s.Table.Source)
			fmt.Fprintf(out, "codec:       %s\n", s.Table.Codec)
			fmt.Fprintf(out, "compression: %s\n", s.Table.Compression)
			fmt.Fprintf(out, "entries:     %d\n", s.Table.Entries)
			fmt.Fprintf(out, "blocks:      %d\n", s.Blocks)
			fmt.Fprintf(out, "records:     %d (dropped %d, keyless %d)\n", s.Table.Records, s.Table.Dropped, s.Table.Skipped)
			fmt.Fprintf(out, "workers:     %d\n", s.Pool.Workers)
			return nil
		},
	}
}
