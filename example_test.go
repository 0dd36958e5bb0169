package countrydb_test

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/countrydb"
	"github.com/hupe1980/countrydb/ingest"
	"github.com/hupe1980/countrydb/resource"
)

const batch = `[
  {"name": {"common": "Germany"}, "cca3": "DEU", "borders": ["POL", "FRA"]},
  {"name": {"common": "France"}, "cca3": "FRA", "borders": ["DEU"]}
]`

func Example() {
	dir, _ := os.MkdirTemp("", "countrydb-example")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	db, err := countrydb.Open(ctx, dir,
		countrydb.WithSource(ingest.BytesSource("example", []byte(batch))))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer db.Close()

	rec, found, _ := db.Lookup(ctx, "Germany")
	fmt.Println(found, rec.Code())

	res, _, _ := db.ResolveWithBorders(ctx, "DEU")
	for _, n := range res.Neighbors {
		fmt.Println("neighbor:", n.Name())
	}

	for e, err := range db.Scan(ctx) {
		if err != nil {
			break
		}
		fmt.Println(e.Key)
	}
	// Output:
	// true DEU
	// neighbor: France
	// DEU
	// FRA
	// France
	// Germany
}

func ExampleDB_Ingest() {
	dir, _ := os.MkdirTemp("", "countrydb-example")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	db, _ := countrydb.Open(ctx, dir)
	defer db.Close()

	fmt.Println(db.Initialized())

	summary, _ := db.Ingest(ctx, ingest.BytesSource("example", []byte(batch)))
	fmt.Println(summary.Records, summary.Entries, summary.Skipped)

	summary, _ = db.Ingest(ctx, ingest.BytesSource("example", []byte(batch)))
	fmt.Println(summary.Skipped)
	// Output:
	// false
	// 2 4 false
	// true
}

func ExampleWithResourceLimits() {
	dir, _ := os.MkdirTemp("", "countrydb-example")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	db, err := countrydb.Open(ctx, dir,
		countrydb.WithSource(ingest.BytesSource("example", []byte(batch))),
		countrydb.WithResourceLimits(resource.Config{
			MemoryLimitBytes:   64 << 20,
			MaxInFlightQueries: 32,
			QueriesPerSecond:   1000,
			IOLimitBytesPerSec: 16 << 20,
		}),
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer db.Close()

	_, found, _ := db.Lookup(ctx, "FRA")
	fmt.Println(found)

	// A budget too small for the batch fails the build.
	small, _ := countrydb.Open(ctx, dir+"-small",
		countrydb.WithResourceLimits(resource.Config{MemoryLimitBytes: 16}),
		countrydb.WithCacheBytes(0))
	defer os.RemoveAll(dir + "-small")
	defer small.Close()

	_, err = small.Ingest(ctx, ingest.BytesSource("example", []byte(batch)))
	fmt.Println(errors.Is(err, countrydb.ErrBuildMemoryLimit))
	// Output:
	// true
	// true
}

// renameCounter observes the atomic publish of a table.
type renameCounter struct {
	countrydb.FileSystem
	renames int
}

func (r *renameCounter) Rename(oldpath, newpath string) error {
	r.renames++
	return r.FileSystem.Rename(oldpath, newpath)
}

func ExampleWithFileSystem() {
	dir, _ := os.MkdirTemp("", "countrydb-example")
	defer os.RemoveAll(dir)

	fsys := &renameCounter{FileSystem: countrydb.DefaultFileSystem}
	db, err := countrydb.Open(context.Background(), dir,
		countrydb.WithFileSystem(fsys),
		countrydb.WithSource(ingest.BytesSource("example", []byte(batch))))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer db.Close()

	fmt.Println(fsys.renames)
	// Output:
	// 1
}
