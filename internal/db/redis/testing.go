package redis

import (
	"github.com/redis/rueidis"

	"github.com/kailas-cloud/pagedex/internal/db"
)

// NewStoreForTest wraps an existing client, typically a rueidis mock.
// An omitted flavor means redis.
func NewStoreForTest(c rueidis.Client, flavor ...db.Flavor) *Store {
	f := db.FlavorRedis
	if len(flavor) > 0 {
		f = flavor[0]
	}
	return &Store{client: c, flavor: f}
}
