// Package ingest turns a batch of country documents into table pairs.
//
// A batch is a JSON array of objects (several arrays back to back are read
// as one batch). For every object the Ingestor derives up to two keys, the
// display name and the short code, serializes the whole document once and
// emits (key, value) for each key in that order.
//
// Per-record problems (non-object elements, encode failures) are counted
// and the batch continues unless strict mode is enabled. A batch that is
// not valid JSON is a fatal error.
package ingest
