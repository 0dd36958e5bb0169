// Package testutil provides fixtures for countrydb tests.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Countries
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Countries(250)          // unique codes, random borders
//	batch := testutil.Batch(docs...)    // JSON array
//
// # Fixed Fixtures
//
//	testutil.GermanyFrance()            // the two-country border example
package testutil
