package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/textproc"
)

// vectorScoreField is the distance alias FT.SEARCH adds to KNN hits.
const vectorScoreField = "__vector_score"

// SearchKNN runs a pre-filtered KNN query. Entry scores are cosine
// similarity clamped to [0,1].
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("index name is required")
	case len(q.Vector) == 0:
		return nil, errors.New("vector is required")
	case q.K <= 0:
		return nil, errors.New("k must be positive")
	}

	field := q.VectorField
	if field == "" {
		field = "vector"
	}
	prefilter := buildFilter(q.Filters)
	if prefilter == "" {
		prefilter = "*"
	} else {
		prefilter = "(" + prefilter + ")"
	}

	args := []string{q.IndexName, fmt.Sprintf("%s=>[KNN %d @%s $BLOB]", prefilter, q.K, field)}
	args = appendReturn(args, q.ReturnFields)
	// FT.SEARCH caps replies at 10 unless told otherwise.
	args = append(args, "LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector), "DIALECT", "2")

	raw, err := s.ftSearch(ctx, args)
	if err != nil {
		return nil, err
	}
	res, err := parseSearchReply(raw, false)
	if err != nil {
		return nil, err
	}
	for i := range res.Entries {
		e := &res.Entries[i]
		if d, err := strconv.ParseFloat(e.Fields[vectorScoreField], 64); err == nil {
			e.Score = min(1, max(0, 1-d))
		}
		delete(e.Fields, vectorScoreField)
	}
	return res, nil
}

// SearchBM25 runs a full-text query whose terms are OR-ed, so a page matching
// any term is a candidate and BM25 ranks pages matching more of them higher.
// Scores are raw BM25. A query with no usable term returns no entries.
func (s *Store) SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("index name is required")
	case q.Query == "":
		return nil, errors.New("query is required")
	case q.TopK <= 0:
		return nil, errors.New("topK must be positive")
	}
	if !s.SupportsTextSearch(ctx) {
		return nil, &db.Error{Op: db.OpSearch, Key: q.IndexName, Err: fmt.Errorf("text search not supported by %s", s.flavor)}
	}

	terms := textproc.QueryTerms(q.Query)
	if len(terms) == 0 {
		return &db.SearchResult{}, nil
	}

	field := q.TextField
	if field == "" {
		field = "text"
	}
	query := fmt.Sprintf("@%s:(%s)", field, strings.Join(terms, " | "))
	if prefilter := buildFilter(q.Filters); prefilter != "" {
		query = prefilter + " " + query
	}

	args := appendReturn([]string{q.IndexName, query}, q.ReturnFields)
	args = append(args, "WITHSCORES", "LIMIT", "0", strconv.Itoa(q.TopK), "DIALECT", "2")

	raw, err := s.ftSearch(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseSearchReply(raw, true)
}

// SearchCount returns how many documents match query. valkey-search rejects
// a bare "*", so a match-all count scans the index key prefix instead.
func (s *Store) SearchCount(ctx context.Context, index, query string) (int, error) {
	if s.flavor == db.FlavorValkey && query == "*" {
		keys, err := s.Scan(ctx, indexToKeyPrefix(index)+"*")
		if err != nil {
			return 0, err
		}
		return len(keys), nil
	}

	raw, err := s.ftSearch(ctx, []string{index, query, "LIMIT", "0", "0"})
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

func (s *Store) ftSearch(ctx context.Context, args []string) ([]rueidis.RedisMessage, error) {
	raw, err := s.do(ctx, s.b().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Key: args[0], Err: err}
	}
	return raw, nil
}

func appendReturn(args, fields []string) []string {
	if len(fields) == 0 {
		return args
	}
	args = append(args, "RETURN", strconv.Itoa(len(fields)))
	return append(args, fields...)
}

// indexToKeyPrefix maps "pagedex:pages:idx" to "pagedex:pages:".
func indexToKeyPrefix(index string) string {
	return strings.TrimSuffix(index, "idx")
}

// parseSearchReply decodes a RESP2 FT.SEARCH reply:
// [total, key, fields, ...] or, WITHSCORES, [total, key, score, fields, ...].
// Malformed hits are skipped.
func parseSearchReply(raw []rueidis.RedisMessage, withScores bool) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	stride := 2
	if withScores {
		stride = 3
	}
	res := &db.SearchResult{Total: int(total)}
	for i := 1; i+stride-1 < len(raw); i += stride {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: key}

		fieldsAt := i + 1
		if withScores {
			str, err := raw[i+1].ToString()
			if err != nil {
				continue
			}
			if entry.Score, err = strconv.ParseFloat(str, 64); err != nil {
				continue
			}
			fieldsAt++
		}

		pairs, err := raw[fieldsAt].ToArray()
		if err != nil {
			continue
		}
		entry.Fields = make(map[string]string, len(pairs)/2)
		for j := 0; j+1 < len(pairs); j += 2 {
			name, nerr := pairs[j].ToString()
			value, verr := pairs[j+1].ToString()
			if nerr == nil && verr == nil {
				entry.Fields[name] = value
			}
		}
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}
