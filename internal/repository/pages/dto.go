package pages

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// buildHashFields flattens a page into HSET fields. The vector is stored as
// little-endian float32 bytes.
func buildHashFields(rec *page.Record) map[string]string {
	m := rec.Fields(true)
	m[vectorField] = vectorToBytes(rec.Vector)
	return m
}

// parseHits converts search entries into hits. Keys are mapped back to page ids.
func parseHits(sr *db.SearchResult) []result.Hit {
	if sr == nil {
		return nil
	}
	hits := make([]result.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := strings.TrimPrefix(e.Key, keyPrefix)
		hits = append(hits, result.Hit{
			Page:  page.FromFields(id, e.Fields),
			Score: e.Score,
		})
	}
	return hits
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// returnFields are the hash fields fetched with every hit.
var returnFields = append(append([]string{}, page.MetadataFields...), page.FieldText)
