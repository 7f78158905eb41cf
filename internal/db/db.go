// Package db abstracts the Redis-compatible stores behind the page index and
// the embedding cache. Consumers declare the narrow subset they call.
package db

import (
	"context"
	"time"
)

// Store is everything the rueidis implementation offers.
//
//nolint:interfacebloat // consumers declare their own subsets
type Store interface {
	Pinger
	HashStore
	KVStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashSetItem is one hash written by a pipelined HSetMulti.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashStore holds page records as hashes.
type HashStore interface {
	HSetMulti(ctx context.Context, items []HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore holds expiring blobs such as cached embeddings.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IndexManager owns the FT index lifecycle.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SupportsTextSearch(ctx context.Context) bool
	Flavor() Flavor
}

// Flavor identifies the server behind a Store.
type Flavor string

const (
	// FlavorRedis is Redis 8+ with the query engine: TEXT, TAG, NUMERIC and VECTOR.
	FlavorRedis Flavor = "redis"
	// FlavorValkey is Valkey with valkey-search, which has no TEXT fields.
	FlavorValkey Flavor = "valkey"
)

// Searcher runs FT.SEARCH queries.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchBM25(ctx context.Context, q *TextQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}
