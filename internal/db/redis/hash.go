package redis

import (
	"context"
	"maps"
	"slices"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/pagedex/internal/db"
)

// scanBatch is the COUNT hint sent with each SCAN call.
const scanBatch = 500

// HSetMulti pipelines one HSET per item. Fields are written in sorted order
// so identical items produce identical commands.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if len(items) == 0 {
		return nil
	}
	cmds := make(rueidis.Commands, 0, len(items))
	for _, item := range items {
		fv := s.b().Hset().Key(item.Key).FieldValue()
		for _, f := range slices.Sorted(maps.Keys(item.Fields)) {
			fv = fv.FieldValue(f, item.Fields[f])
		}
		cmds = append(cmds, fv.Build())
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpHSet, Key: items[i].Key, Err: err}
		}
	}
	return nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.do(ctx, s.b().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Key: key, Err: err}
	}
	return m, nil
}

// DelMulti removes keys with UNLINK, which frees memory off the main
// thread. Missing keys are ignored.
func (s *Store) DelMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.do(ctx, s.b().Unlink().Key(keys...).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Key: keys[0], Err: err}
	}
	return nil
}

// Scan walks the whole keyspace cursor by cursor and returns every key
// matching pattern. Keys written during the walk may be missed.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	cursor := uint64(0)
	for {
		entry, err := s.do(ctx, s.b().Scan().Cursor(cursor).Match(pattern).Count(scanBatch).Build()).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Key: pattern, Err: err}
		}
		keys = append(keys, entry.Elements...)
		if cursor = entry.Cursor; cursor == 0 {
			return keys, nil
		}
	}
}
