package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	gojson "github.com/goccy/go-json"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Shuffle pseudo-randomizes the order of n elements.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// Code returns a random upper-case three-letter code.
func (r *RNG) Code() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code()
}

func (r *RNG) code() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = byte('A' + r.rand.Intn(26))
	}
	return string(b)
}

// Countries generates n documents with unique codes and names. Each
// document borders up to four other generated countries and, with some
// probability, one code that does not exist.
func (r *RNG) Countries(n int) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > 26*26*26 {
		n = 26 * 26 * 26
	}
	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		c := r.code()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}

	docs := make([]map[string]any, n)
	for i, c := range codes {
		borders := []string{}
		for range r.rand.Intn(5) {
			if n > 1 {
				b := codes[r.rand.Intn(n)]
				if b != c {
					borders = append(borders, b)
				}
			}
		}
		if r.rand.Intn(4) == 0 {
			borders = append(borders, "Z"+c[1:]+"?")
		}
		docs[i] = Country(c, fmt.Sprintf("Country %s %d", c, i), borders...)
		docs[i]["population"] = int64(r.rand.Intn(100_000_000))
		docs[i]["area"] = float64(r.rand.Intn(1_000_000)) + 0.5
	}
	return docs
}

// Country builds a minimal country document.
func Country(code, name string, borders ...string) map[string]any {
	b := make([]any, len(borders))
	for i, s := range borders {
		b[i] = s
	}
	return map[string]any{
		"name": map[string]any{
			"common":   name,
			"official": "Republic of " + name,
		},
		"cca3":    code,
		"borders": b,
	}
}

// GermanyFrance returns Germany (bordering POL, FRA and ZZZ) and France
// (bordering DEU). Only France resolves as a neighbor of Germany.
func GermanyFrance() []map[string]any {
	return []map[string]any{
		Country("DEU", "Germany", "POL", "FRA", "ZZZ"),
		Country("FRA", "France", "DEU"),
	}
}

// Batch encodes documents as a JSON array.
func Batch(docs ...map[string]any) []byte {
	if docs == nil {
		docs = []map[string]any{}
	}
	b, err := gojson.Marshal(docs)
	if err != nil {
		panic(err)
	}
	return b
}

// BatchOf encodes arbitrary elements as a JSON array.
func BatchOf(elems ...any) []byte {
	b, err := gojson.Marshal(elems)
	if err != nil {
		panic(err)
	}
	return b
}
