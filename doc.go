// Package countrydb serves country records from an immutable, sorted
// on-disk table.
//
// A batch of country documents (a JSON array) is ingested once: every
// record is stored under its display name ("/name/common") and its short
// code ("/cca3"). The table is then served by a fixed pool of workers,
// each owning its own table handle.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := countrydb.Open(ctx, "./data",
//	    countrydb.WithSource(ingest.FileSource("countries.json")))
//	defer db.Close()
//
//	rec, found, _ := db.Lookup(ctx, "DEU")
//	fmt.Println(found, rec.Name())  // true Germany
//
// # Border Resolution
//
// ResolveWithBorders follows the "/borders" list exactly one hop. Codes
// that are not in the table are left out:
//
//	res, _, _ := db.ResolveWithBorders(ctx, "Germany")
//	for _, n := range res.Neighbors {
//	    fmt.Println(n.Code())
//	}
//
// # Build Model
//
// Ingest runs only when the directory holds no valid table (missing,
// failing its integrity check, or without the sentinel key). Builds are
// deterministic and atomic: pairs are sorted, duplicate keys keep their
// first value, and the file is written to a temporary name, synced and
// renamed into place. Records that fail to serialize are dropped and
// counted unless WithStrictIngest is set.
//
// # Key Features
//
//   - Block-compressed table (lz4, zstd) with bloom filter and checksums
//   - Shared block cache and memory budget
//   - Query admission control (in-flight cap, rate limit)
//   - Ingest from local files, S3 or MinIO
//   - OpenTelemetry spans, slog logging, Prometheus metrics
package countrydb
